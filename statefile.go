package segring

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const stateFileHeader = "SEGRINGv1       "

// LoadState reads a gzipped state written by PersistState.
func LoadState(r io.Reader) (*ScopedState, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	header := make([]byte, len(stateFileHeader))
	if _, err = io.ReadFull(gr, header); err != nil {
		return nil, err
	}
	if string(header) != stateFileHeader {
		return nil, fmt.Errorf("unknown header %q", bytes.TrimRight(header, " "))
	}
	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}
	state := &ScopedState{}
	if err = state.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return state, nil
}

// PersistState writes the state gzipped, behind a short header identifying
// the format.
func PersistState(state *ScopedState, w io.Writer) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(w)
	if _, err = io.WriteString(gw, stateFileHeader); err != nil {
		gw.Close()
		return err
	}
	if _, err = gw.Write(data); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

func LoadStateFile(filename string) (*ScopedState, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadState(f)
}

// PersistStateFile writes to a temporary file in the same directory and then
// renames it over filename, so readers never see a partial file.
func PersistStateFile(state *ScopedState, filename string) error {
	dir, name := filepath.Split(filename)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, name+".")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err = PersistState(state, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filename)
}
