package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Source is a media file to ingest, either a local file or an http(s) URL.
type Source struct {
	Location    string
	Name        string
	Size        int64 // -1 if unknown
	ContentType string
	ETag        string // changes when the content changes

	open func(ctx context.Context, offset int64) (io.ReadCloser, error)
}

// OpenAt returns the content of the source starting at offset.
func (s *Source) OpenAt(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if offset < 0 || (s.Size >= 0 && offset > s.Size) {
		return nil, fmt.Errorf("source: offset %d outside source of %d bytes", offset, s.Size)
	}
	return s.open(ctx, offset)
}

// Open resolves location and reads its metadata. Nothing is downloaded
// until OpenAt is called.
func Open(ctx context.Context, location string, opts Options) (*Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return openURL(ctx, location, opts)
	}
	return openFile(strings.TrimPrefix(location, "file://"))
}

func openURL(ctx context.Context, location string, opts Options) (*Source, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("source: parse %s: %w", location, err)
	}

	c := newClient(opts)
	info, err := c.head(ctx, location)
	if err != nil {
		return nil, err
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	etag := info.ETag
	if etag == "" && !info.LastModified.IsZero() {
		etag = fmt.Sprintf("%x-%x", info.LastModified.Unix(), info.Size)
	}

	return &Source{
		Location:    location,
		Name:        name,
		Size:        info.Size,
		ContentType: contentType,
		ETag:        etag,
		open: func(ctx context.Context, offset int64) (io.ReadCloser, error) {
			return c.getFrom(ctx, location, offset)
		},
	}, nil
}

func openFile(name string) (*Source, error) {
	fi, err := os.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("source: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("source: %s is a directory", name)
	}

	return &Source{
		Location:    name,
		Name:        filepath.Base(name),
		Size:        fi.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		ETag:        fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
		open: func(_ context.Context, offset int64) (io.ReadCloser, error) {
			f, err := os.Open(name)
			if err != nil {
				return nil, fmt.Errorf("source: %w", err)
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				f.Close()
				return nil, fmt.Errorf("source: seek: %w", err)
			}
			return f, nil
		},
	}, nil
}
