// Package blob implements attachment storage backends.
package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"marketplace-inbox/errors"
)

// DiskStore keeps blobs under a root directory and serves them through
// HMAC-signed, expiring URLs of the form {baseURL}/{key}?exp=..&sig=..
type DiskStore struct {
	root    string
	baseURL string
	secret  []byte
	log     *slog.Logger
	now     func() time.Time
}

func NewDiskStore(log *slog.Logger, root, baseURL string, secret []byte) (*DiskStore, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("disk blob store needs a signing secret")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		log:     log,
		now:     time.Now,
	}, nil
}

// path resolves a key inside root, refusing anything that would escape it.
func (s *DiskStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: invalid blob key %q", errors.ErrValidation, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DiskStore) Put(_ context.Context, key, _ string, body io.Reader, size int64) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if size >= 0 && written != size {
		return fmt.Errorf("short write for %s: %d of %d bytes", key, written, size)
	}
	return os.Rename(tmp.Name(), path)
}

func (s *DiskStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	exp := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("exp", exp)
	q.Set("sig", s.sign(key, exp))
	return fmt.Sprintf("%s/%s?%s", s.baseURL, key, q.Encode()), nil
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Open checks the signature of a served URL and opens the blob.
func (s *DiskStore) Open(key, exp, sig string) (*os.File, error) {
	if err := s.Verify(key, exp, sig); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: blob %s", errors.ErrNotFound, key)
	}
	return f, err
}

func (s *DiskStore) Verify(key, exp, sig string) error {
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || s.now().Unix() > expiry {
		return errors.ErrInvalidSignature
	}
	expected, err := hex.DecodeString(s.sign(key, exp))
	if err != nil {
		return err
	}
	given, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, given) {
		return errors.ErrInvalidSignature
	}
	return nil
}

func (s *DiskStore) sign(key, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(exp))
	return hex.EncodeToString(mac.Sum(nil))
}
