// inspect dumps the contents of a local chatsync store for debugging:
// key listings by prefix, individual records, and store statistics. Run
// it against a DB path the daemon is not currently holding open.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"chatsync/pkg/store"
)

func main() {
	var (
		dbPath = flag.String("db", "./.chatsync", "chatsync DB path")
		prefix = flag.String("prefix", "", "key prefix to list (chat:, msgid:, artifact:, session:, sync:)")
		key    = flag.String("key", "", "print the value of a single key")
		stats  = flag.Bool("stats", false, "print store statistics")
	)
	flag.Parse()

	storePath := filepath.Join(*dbPath, "store")
	if err := store.Open(storePath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store at %s: %v\n", storePath, err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *stats:
		s := store.GetStats()
		b, _ := json.MarshalIndent(s, "", "  ")
		fmt.Println(string(b))
	case *key != "":
		v, err := store.GetKey(*key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get %s: %v\n", *key, err)
			os.Exit(1)
		}
		fmt.Println(v)
	default:
		keys, err := store.ListKeys(*prefix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list %q: %v\n", *prefix, err)
			os.Exit(1)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
	}
}
