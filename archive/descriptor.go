package archive

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const descriptorExt = ".osu"

var (
	ErrNoDescriptor  = errors.New("no beatmap descriptor in directory")
	ErrHashNotFound  = errors.New("no descriptor matches the requested hash")
	errNoAudioHeader = errors.New("descriptor has no AudioFilename")
)

// Descriptor holds the header fields read from a .osu file.
type Descriptor struct {
	AudioFilename string
	Title         string
	TitleUnicode  string
}

// DisplayTitle prefers the unicode title.
func (d Descriptor) DisplayTitle() string {
	if d.TitleUnicode != "" {
		return d.TitleUnicode
	}
	return d.Title
}

// ParseDescriptor reads header keys until TitleUnicode or the
// [Difficulty] section, whichever comes first.
func ParseDescriptor(r io.Reader) (Descriptor, error) {
	var d Descriptor
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		line = strings.TrimPrefix(line, "\ufeff")

		switch {
		case strings.HasPrefix(line, "AudioFilename:"):
			d.AudioFilename = strings.TrimSpace(strings.TrimPrefix(line, "AudioFilename:"))
		case strings.HasPrefix(line, "Title:"):
			d.Title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "TitleUnicode:"):
			d.TitleUnicode = strings.TrimSpace(strings.TrimPrefix(line, "TitleUnicode:"))
			return d, d.check()
		case strings.HasPrefix(line, "[Difficulty]"):
			return d, d.check()
		}
	}
	if err := sc.Err(); err != nil {
		return d, err
	}
	return d, d.check()
}

func (d Descriptor) check() error {
	if d.AudioFilename == "" {
		return errNoAudioHeader
	}
	return nil
}

// SelectDescriptor returns the .osu file in dir whose md5 equals hash, or
// the first one in name order when hash is empty.
func SelectDescriptor(dir, hash string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), descriptorExt) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoDescriptor, dir)
	}
	slices.Sort(names)

	if hash == "" {
		return filepath.Join(dir, names[0]), nil
	}

	for _, name := range names {
		path := filepath.Join(dir, name)
		sum, err := fileMD5(path)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(sum, hash) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrHashNotFound, hash)
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SetIDFromDir returns the leading whitespace-separated token of a set
// directory name.
func SetIDFromDir(dir string) string {
	base := filepath.Base(filepath.Clean(dir))
	id, _, _ := strings.Cut(base, " ")
	return id
}
