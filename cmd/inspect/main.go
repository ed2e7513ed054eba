package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"presencedb/pkg/logger"
	"presencedb/pkg/store"
)

// Offline inspection of a presence database: dumps a conversation's
// messages and metadata, or lists conversation ids.
func main() {
	var (
		dbPath string
		conv   string
	)
	flag.StringVar(&dbPath, "db", "", "pebble DB path")
	flag.StringVar(&conv, "conversation", "", "conversation id to dump (omit to list all)")
	flag.Parse()
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init()
	if err := store.Open(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open db: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if conv == "" {
		ids, err := store.ListConversations()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(ids)
		return
	}

	msgs, err := store.ListMessages(conv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list messages failed: %v\n", err)
		os.Exit(1)
	}
	meta, err := store.GetMeta(conv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get meta failed: %v\n", err)
		os.Exit(1)
	}
	_ = enc.Encode(struct {
		Conversation string      `json:"conversation"`
		Meta         interface{} `json:"meta"`
		Messages     interface{} `json:"messages"`
	}{Conversation: conv, Meta: meta, Messages: msgs})
}
