// cmd/ttcore-smoke/main.go
package main

import (
	"fmt"
	"os"

	"typedtables/compact"
	"typedtables/metadata"
	"typedtables/record"
	"typedtables/schema"
	"typedtables/storage"
)

// Command aliases mapping, same spirit as the larger sibling CLI this one
// is a stripped-down cousin of.
var commandAliases = map[string]string{
	"i": "init",
	"c": "compact",
	"a": "archive",
	"r": "restore",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	var err error
	switch cmd {
	case "init":
		err = runInit(args[1:])
	case "compact":
		err = runCompact(args[1:])
	case "archive":
		err = runArchive(args[1:])
	case "restore":
		err = runRestore(args[1:])
	case "--help", "-h", "help":
		showUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "ttcore-smoke: unknown command %q\n", cmd)
		showUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ttcore-smoke: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`ttcore-smoke — end-to-end demo of registry + storage + compact

Usage:
  ttcore-smoke init <data-dir>             seed a small People/Pet schema with a few rows
  ttcore-smoke compact <src-dir> <dst-dir> compact a database directory
  ttcore-smoke archive <src-dir> <out.ttar> [--gzip]  compact and archive to a .ttar file
  ttcore-smoke restore <archive.ttar> <dst-dir>       restore a .ttar archive`)
}

// demoSchema builds a minimal People/Pet schema: a Person composite with a
// nullable pet reference, just enough surface to exercise composite
// references through InsertComposite/GetComposite and the compactor.
func demoSchema() (*schema.Registry, error) {
	reg := schema.NewRegistry()

	pet := schema.NewCompositeStub("Pet")
	if err := reg.Register(pet); err != nil {
		return nil, err
	}
	pet.Populate(nil, nil, []schema.FieldDef{
		{Name: "name", Type: reg.Get("string")},
		{Name: "age", Type: reg.Get("uint8")},
	})

	person := schema.NewCompositeStub("Person")
	if err := reg.Register(person); err != nil {
		return nil, err
	}
	person.Populate(nil, nil, []schema.FieldDef{
		{Name: "name", Type: reg.Get("string")},
		{Name: "pet", Type: pet},
	})

	return reg, nil
}

func runInit(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ttcore-smoke init <data-dir>")
	}
	dataDir := args[0]

	reg, err := demoSchema()
	if err != nil {
		return err
	}

	mgr, err := storage.NewManager(dataDir, reg, storage.DefaultOptions())
	if err != nil {
		return err
	}
	defer mgr.Close()

	petIdx, err := mgr.InsertComposite("Pet", record.Value{"name": "Biscuit", "age": uint8(3)})
	if err != nil {
		return err
	}
	if _, err := mgr.InsertComposite("Person", record.Value{"name": "Ada", "pet": petIdx}); err != nil {
		return err
	}
	if _, err := mgr.InsertComposite("Person", record.Value{"name": "Grace", "pet": nil}); err != nil {
		return err
	}

	if err := mgr.SaveMetadata(); err != nil {
		return err
	}
	fmt.Printf("ttcore-smoke: seeded %s with 2 people, 1 pet\n", dataDir)
	return nil
}

func runCompact(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ttcore-smoke compact <src-dir> <dst-dir>")
	}
	if err := compact.Compact(args[0], args[1], storage.DefaultOptions()); err != nil {
		return err
	}
	fmt.Printf("ttcore-smoke: compacted %s into %s\n", args[0], args[1])
	return nil
}

func runArchive(args []string) error {
	gzipWrap := false
	var positional []string
	for _, a := range args {
		if a == "--gzip" {
			gzipWrap = true
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) != 2 {
		return fmt.Errorf("usage: ttcore-smoke archive <src-dir> <out.ttar> [--gzip]")
	}
	log := func(format string, args ...any) { fmt.Printf(format+"\n", args...) }
	if err := compact.Archive(positional[0], positional[1], gzipWrap, storage.DefaultOptions(), log); err != nil {
		return err
	}
	fmt.Printf("ttcore-smoke: archived %s to %s\n", positional[0], positional[1])
	return nil
}

func runRestore(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ttcore-smoke restore <archive.ttar> <dst-dir>")
	}
	if err := compact.Restore(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("ttcore-smoke: restored %s to %s (sidecar %s present)\n", args[0], args[1], metadata.FileName)
	return nil
}
