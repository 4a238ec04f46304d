package provision

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/p-arndt/fabrik/internal/envman"
)

// UntarSingleFile returns the contents of the first regular file in the tar
// stream r along with its size.
func UntarSingleFile(r io.Reader) (io.Reader, int64, error) {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: archive contains no regular file", envman.ErrTransfer)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: read archive: %v", envman.ErrTransfer, err)
		}
		if header.Typeflag == tar.TypeReg {
			return tr, header.Size, nil
		}
	}
}

// TarSingleFile wraps size bytes of r into a tar stream with one entry
// called name.
func TarSingleFile(name string, size int64, r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Size:     size,
			Mode:     0o644,
			ModTime:  time.Now(),
			Format:   tar.FormatPAX,
		})
		if err == nil {
			_, err = io.CopyN(tw, r, size)
		}
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr
}

// TarPath streams the file or directory tree at path as a tar archive.
// Entry names are relative to the parent of path.
func TarPath(path string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTree(pw, path))
	}()
	return pr
}

func writeTree(w io.Writer, path string) error {
	tw := tar.NewWriter(w)
	base := filepath.Dir(path)
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// Decompress returns r unchanged unless it starts with a gzip header.
func Decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr, nil
	}
	return br, nil
}

// ExtractTar unpacks the tar stream r below dir. Entries that would land
// outside dir are rejected.
func ExtractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		target, err := SecureJoin(dir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			mode := os.FileMode(header.Mode).Perm() | 0o600
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("archive symlink is absolute: %q", header.Name)
			}
			resolved := filepath.Join(filepath.Dir(filepath.FromSlash(header.Name)), header.Linkname)
			if resolved == ".." || strings.HasPrefix(resolved, ".."+string(os.PathSeparator)) {
				return fmt.Errorf("archive symlink escapes root: %q", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}

		case tar.TypeLink:
			linkTarget, err := SecureJoin(dir, header.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			if err := os.Link(linkTarget, target); err != nil {
				return err
			}
		}
	}
}

// SecureJoin resolves p below root, treating an absolute p as rooted at
// root. It fails if a relative p climbs out of root.
func SecureJoin(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		if up := filepath.Clean(filepath.FromSlash(p)); up == ".." || strings.HasPrefix(up, ".."+string(os.PathSeparator)) {
			return "", fmt.Errorf("path escapes root: %q", p)
		}
	}
	clean := filepath.Clean("/" + filepath.FromSlash(p))
	rel := strings.TrimPrefix(clean, "/")
	if rel == "" || rel == "." {
		return root, nil
	}
	target := filepath.Join(root, rel)
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) && target != root {
		return "", fmt.Errorf("path escapes root: %q", p)
	}
	return target, nil
}
