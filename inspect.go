package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"nbcommit/stablelog"
)

// logFiles expands each path: directories yield the logs inside them.
func logFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := stablelog.Files(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

// inspect prints the state history recorded in each log file.
func inspect(w io.Writer, paths []string) error {
	files, err := logFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no stable logs under %v", paths)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tINDEX\tTIME\tROLE\tPROCESS\tSTATE")
	for _, f := range files {
		l, err := stablelog.OpenReadOnly(f)
		if err != nil {
			return err
		}
		recs, err := l.ReadAll()
		l.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\n",
				f, r.Index, r.Time().Format(time.RFC3339Nano), r.Role, r.Process, r.State)
		}
	}
	return tw.Flush()
}
