package edgar

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/filing"
)

// LocalSource serves filings from a directory of files named after their
// document id, e.g. AAPL_2023_4_10K.htm or MSFT_2024_2_10Q.txt.
type LocalSource struct {
	dir string
}

func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{dir: dir}
}

func (s *LocalSource) Fetch(ctx context.Context, req filing.FilingRequest) (*filing.RawFiling, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(filing.ErrNotFound, "filings directory %s", s.dir)
		}
		return nil, eris.Wrapf(err, "read filings directory %s", s.dir)
	}

	prefix := strings.ToUpper(req.DocumentID()) + "."
	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(e.Name()), prefix) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return nil, eris.Wrapf(filing.ErrNotFound, "no local file for %s in %s", req.DocumentID(), s.dir)
	}
	sort.Strings(matches)

	path := filepath.Join(s.dir, matches[0])
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &filing.RawFiling{
		Name:      matches[0],
		Data:      data,
		SourceURL: "file://" + filepath.ToSlash(abs),
	}, nil
}
