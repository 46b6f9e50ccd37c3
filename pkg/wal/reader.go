package wal

import (
	"bufio"
	"os"
)

// ReadAll returns the readable entries of files in order. Each file is
// read up to its first torn or corrupted entry; appends never skip bytes,
// so nothing after that point was acknowledged.
func ReadAll(files []string) ([]*Entry, error) {
	var entries []*Entry
	for _, f := range files {
		var err error
		if entries, err = readFile(f, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func readFile(path string, into []*Entry) ([]*Entry, error) {
	fd, err := os.Open(path)
	if err != nil {
		return into, err
	}
	defer fd.Close()

	r := bufio.NewReader(fd)
	for {
		e, err := readEntry(r)
		if err != nil {
			if isTail(err) {
				return into, nil
			}
			return into, err
		}
		into = append(into, e)
	}
}
