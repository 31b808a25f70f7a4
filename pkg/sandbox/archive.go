package sandbox

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/fcanata00/porg/pkg/porgerr"
)

// Package tars stageDir into outDir/{name}.tar, then compresses per format
// ("gz", "xz", "zst", or "tar" for no compression). The uncompressed tar is
// removed once compression succeeds (spec.md §4.F "Packaging").
func Package(stageDir, outDir, name, format string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("sandbox: mkdir %s: %w", outDir, porgerr.ErrIO)
	}
	tarPath := filepath.Join(outDir, name+".tar")
	if err := tarDir(stageDir, tarPath); err != nil {
		return "", fmt.Errorf("sandbox: tar %s: %w", stageDir, porgerr.ErrPackageFailed)
	}

	if format == "" || format == "tar" {
		return tarPath, nil
	}

	ext, compressFn := compressorFor(format)
	if compressFn == nil {
		return "", fmt.Errorf("sandbox: unknown package format %q: %w", format, porgerr.ErrInvalidInput)
	}
	finalPath := tarPath + ext
	if err := compressFn(tarPath, finalPath); err != nil {
		return "", fmt.Errorf("sandbox: compress %s: %w", tarPath, porgerr.ErrPackageFailed)
	}
	if err := os.Remove(tarPath); err != nil {
		return "", fmt.Errorf("sandbox: remove uncompressed tar %s: %w", tarPath, porgerr.ErrIO)
	}
	return finalPath, nil
}

func compressorFor(format string) (string, func(src, dst string) error) {
	switch format {
	case "gz", "gzip":
		return ".gz", compressGzip
	case "xz":
		return ".xz", compressXZ
	case "zst", "zstd":
		return ".zst", compressZstd
	default:
		return "", nil
	}
}

func tarDir(root, tarPath string) error {
	f, err := os.Create(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
}

func compressGzip(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		return err
	}
	return gw.Close()
}

func compressXZ(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	xw, err := xz.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(xw, in); err != nil {
		return err
	}
	return xw.Close()
}

func compressZstd(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	zw, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, in); err != nil {
		return err
	}
	return zw.Close()
}

// Extract decompresses and untars archivePath into destDir, then applies
// spec.md §4.F's tie-break: if destDir contains exactly one top-level
// directory, that is the "source root"; otherwise destDir itself is.
func Extract(archivePath, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("sandbox: mkdir %s: %w", destDir, porgerr.ErrIO)
	}
	r, closeFn, err := decompressedReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("sandbox: open %s: %w", archivePath, porgerr.ErrExtractFailed)
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("sandbox: extract %s: %w", archivePath, porgerr.ErrExtractFailed)
		}
		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return "", fmt.Errorf("sandbox: extract %s: entry %q escapes destination: %w", archivePath, hdr.Name, porgerr.ErrExtractFailed)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return "", err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return "", err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return "", err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return "", err
			}
			out.Close()
		}
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", err
	}
	dirCount, soleDir := 0, ""
	for _, e := range entries {
		if e.IsDir() {
			dirCount++
			soleDir = e.Name()
		} else {
			dirCount = -1 << 30 // non-dir entry present, never treat as the sole top-level dir
			break
		}
	}
	if dirCount == 1 {
		return filepath.Join(destDir, soleDir), nil
	}
	return destDir, nil
}

func decompressedReader(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return gr, func() error { gr.Close(); return f.Close() }, nil
	case strings.HasSuffix(path, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return xr, f.Close, nil
	case strings.HasSuffix(path, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return zr.IOReadCloser(), func() error { zr.Close(); return f.Close() }, nil
	case strings.HasSuffix(path, ".tar"):
		return f, f.Close, nil
	default:
		f.Close()
		return nil, nil, fmt.Errorf("sandbox: unrecognized archive extension for %s", path)
	}
}
