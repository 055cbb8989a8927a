// Package clipboard converts between desktop clipboard payloads for copied
// or cut files and job requests.
package clipboard

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// Clipboard formats understood by Parse and produced by Format
const (
	MimeGnomeCopiedFiles = "x-special/gnome-copied-files"
	MimeURIList          = "text/uri-list"
	MimeKDECutSelection  = "x-kde-cut-selection"
)

// ErrNoFiles is wrapped when a payload names no files
var ErrNoFiles = errors.New("clipboard holds no files")

// Op says whether the files were copied or cut
type Op string

const (
	OpCopy Op = "copy"
	OpCut  Op = "cut"
)

// Payload is a set of files on the clipboard
type Payload struct {
	Op    Op       `json:"op"`
	Paths []string `json:"paths"`
}

// Parse reads a payload from clipboard data keyed by mime type. The GNOME
// format wins when present; otherwise the URI list is used with the KDE
// cut marker.
func Parse(data map[string][]byte) (Payload, error) {
	if raw, ok := data[MimeGnomeCopiedFiles]; ok {
		head, rest, found := bytes.Cut(raw, []byte("\n"))
		if found {
			op := OpCopy
			if strings.TrimSpace(string(head)) == string(OpCut) {
				op = OpCut
			}
			list, err := parseURIList(rest)
			if err != nil {
				return Payload{}, err
			}
			if len(list) > 0 {
				return Payload{Op: op, Paths: list}, nil
			}
		}
	}

	if raw, ok := data[MimeURIList]; ok {
		list, err := parseURIList(raw)
		if err != nil {
			return Payload{}, err
		}
		if len(list) > 0 {
			op := OpCopy
			if cut := data[MimeKDECutSelection]; len(cut) > 0 && cut[0] == '1' {
				op = OpCut
			}
			return Payload{Op: op, Paths: list}, nil
		}
	}

	return Payload{}, fserr.New(fserr.InvalidInput, "paste", "", ErrNoFiles)
}

// parseURIList reads one URI per line, skipping blank lines and comments
func parseURIList(raw []byte) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := fromURI(line)
		if err != nil {
			return nil, fserr.New(fserr.InvalidInput, "paste", line, err)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fserr.New(fserr.InvalidInput, "paste", "", err)
	}
	return out, nil
}

// fromURI turns file:// URIs into local paths and normalizes any other
// location, keeping its scheme
func fromURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "":
		return paths.Normalize(raw)
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("file URI on remote host %q", u.Host)
		}
		return paths.Normalize(u.Path)
	default:
		return paths.Normalize(u.Scheme + "://" + u.Host + u.Path)
	}
}

// toURI renders a location as a URI, escaping local paths
func toURI(p string) string {
	loc, err := paths.Parse(p)
	if err != nil || loc.Scheme != "" {
		return p
	}
	u := url.URL{Scheme: "file", Path: loc.Path}
	return u.String()
}

// Format renders p in every supported format
func Format(p Payload) map[string][]byte {
	uris := make([]string, 0, len(p.Paths))
	for _, path := range p.Paths {
		uris = append(uris, toURI(path))
	}

	op := p.Op
	if op != OpCut {
		op = OpCopy
	}
	out := map[string][]byte{
		MimeGnomeCopiedFiles: []byte(string(op) + "\n" + strings.Join(uris, "\n")),
		MimeURIList:          []byte(strings.Join(uris, "\r\n") + "\r\n"),
	}
	if op == OpCut {
		out[MimeKDECutSelection] = []byte("1")
	}
	return out
}

// Request turns the payload into a job pasting into dest: cut files move,
// copied files copy
func (p Payload) Request(dest string) job.Request {
	kind := job.KindCopy
	if p.Op == OpCut {
		kind = job.KindMove
	}
	return job.Request{
		Kind:        kind,
		Sources:     append([]string(nil), p.Paths...),
		Destination: dest,
	}
}
