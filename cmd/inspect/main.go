// Command inspect prints the conversations or attachments stored in a badger
// directory as a table. It opens the database read-only and can run next to
// the server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"

	"marketplace-inbox/attachment"
	"marketplace-inbox/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type dumper struct {
	prefix string
	header []string
	row    func(key string, value []byte) ([]string, error)
}

var dumpers = map[string]dumper{
	"conversations": {
		prefix: "conv:",
		header: []string{"ID", "Context", "Property", "Participants", "Unread", "Hidden", "Last message", "Version"},
		row:    conversationRow,
	},
	"attachments": {
		prefix: "att:",
		header: []string{"ID", "Conversation", "Uploader", "File", "Mime", "Size", "Message", "Created"},
		row:    attachmentRow,
	},
}

func main() {
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	kind := flag.String("kind", "conversations", "What to dump: conversations or attachments")
	limit := flag.Int("limit", 200, "Maximum number of rows")
	flag.Parse()

	d, ok := dumpers[*kind]
	if !ok {
		log.Fatalf("unknown kind %q", *kind)
	}
	if *dbPath == "" {
		log.Fatal("missing -db (or BADGER_FILEPATH)")
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(d.header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(d.prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && rows < *limit; it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(v []byte) error {
				row, err := d.row(key, v)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skipping %s: %v\n", key, err)
					return nil
				}
				table.Append(row)
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d %s\n", rows, *kind)
}

func conversationRow(_ string, value []byte) ([]string, error) {
	var c domain.Conversation
	if err := json.Unmarshal(value, &c); err != nil {
		return nil, err
	}
	var unread, hidden []string
	for _, p := range c.Participants {
		state := c.States[p]
		unread = append(unread, fmt.Sprintf("%s:%d", shortID(p), state.UnreadCount))
		if state.Hidden {
			hidden = append(hidden, shortID(p))
		}
	}
	last := "-"
	if c.LastMessage != nil {
		last = fmt.Sprintf("%s %s", c.LastMessage.At.Format("2006-01-02 15:04"), truncate(c.LastMessage.Body, 30))
	}
	return []string{
		shortID(c.ID),
		string(c.Context),
		shortID(c.PropertyID),
		shortID(c.Participants[0]) + " / " + shortID(c.Participants[1]),
		strings.Join(unread, " "),
		strings.Join(hidden, " "),
		last,
		strconv.FormatUint(c.Version, 10),
	}, nil
}

func attachmentRow(_ string, value []byte) ([]string, error) {
	var a domain.Attachment
	if err := json.Unmarshal(value, &a); err != nil {
		return nil, err
	}
	bound := "orphan"
	if a.Bound() {
		bound = shortID(a.MessageID)
	}
	return []string{
		shortID(a.ID),
		shortID(a.ConversationID),
		shortID(a.UploaderID),
		truncate(a.FileName, 40),
		a.MimeType,
		attachment.FormatFileSize(a.FileSize),
		bound,
		a.CreatedAt.Format("2006-01-02 15:04"),
	}, nil
}

// shortID keeps the first 8 characters of an id for readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
