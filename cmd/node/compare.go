package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/urfave/cli/v2"

	"MultiBridge/internal/storage"
)

// comparedPrefixes are the keys two nodes agree on once they processed the
// same attestations. Receipts (r:) are signed per node and left out.
var comparedPrefixes = []string{"s:", "o:", "q:", "m:"}

var compareCommand = &cli.Command{
	Name:      "compare",
	Usage:     "Compare the registries and quorum ledger of two data directories",
	ArgsUsage: "<data1> <data2>",
	Action:    compareData,
}

// storeDiff lists the keys that differ between two stores.
type storeDiff struct {
	onlyFirst  []string // onlyFirst are keys missing from the second store
	onlySecond []string // onlySecond are keys missing from the first store
	different  []string // different are keys with different values
}

// empty reports whether the stores matched.
func (d *storeDiff) empty() bool {
	return len(d.onlyFirst) == 0 && len(d.onlySecond) == 0 && len(d.different) == 0
}

// compareData opens both stores and prints their differences.
func compareData(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected two data directories")
	}

	paths := []string{ctx.Args().Get(0), ctx.Args().Get(1)}
	dbs := make([]*storage.Storage, 2)

	for i, path := range paths {
		db, err := storage.New(filepath.Join(path, "db"))
		if err != nil {
			return fmt.Errorf("open %s:\n%w", path, err)
		}
		defer db.Close()

		dbs[i] = db
	}

	diff, err := diffStores(dbs[0], dbs[1])
	if err != nil {
		return err
	}

	if diff.empty() {
		fmt.Println("States are identical")
		return nil
	}

	printKeys := func(title string, keys []string) {
		if len(keys) == 0 {
			return
		}

		fmt.Printf("  %s: %d\n", title, len(keys))
		for _, k := range keys {
			fmt.Printf("      %s\n", k)
		}
	}

	fmt.Println("States differ:")
	printKeys("only in "+paths[0], diff.onlyFirst)
	printKeys("only in "+paths[1], diff.onlySecond)
	printKeys("different values", diff.different)

	return fmt.Errorf("states differ")
}

// diffStores compares the compared prefixes of a and b.
func diffStores(a, b *storage.Storage) (*storeDiff, error) {
	first, err := collectKeys(a)
	if err != nil {
		return nil, err
	}

	second, err := collectKeys(b)
	if err != nil {
		return nil, err
	}

	diff := &storeDiff{}

	for k, v1 := range first {
		v2, ok := second[k]
		if !ok {
			diff.onlyFirst = append(diff.onlyFirst, k)
			continue
		}

		if !bytes.Equal(v1, v2) {
			diff.different = append(diff.different, k)
		}
	}

	for k := range second {
		if _, ok := first[k]; !ok {
			diff.onlySecond = append(diff.onlySecond, k)
		}
	}

	sort.Strings(diff.onlyFirst)
	sort.Strings(diff.onlySecond)
	sort.Strings(diff.different)

	return diff, nil
}

// collectKeys reads every compared key of db, keyed by printable name.
func collectKeys(db *storage.Storage) (map[string][]byte, error) {
	out := make(map[string][]byte)

	for _, prefix := range comparedPrefixes {
		err := db.IteratePrefix([]byte(prefix), func(key, value []byte) error {
			out[fmt.Sprintf("%s%x", prefix, key[len(prefix):])] = bytes.Clone(value)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s:\n%w", prefix, err)
		}
	}

	return out, nil
}
