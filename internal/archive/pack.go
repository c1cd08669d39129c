package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Extension is the suffix of every artifact in the backup store.
const Extension = ".tar.zst"

// MetadataMember is the descriptor member packed first in every artifact, so
// listings can read it without decompressing the whole stream.
const MetadataMember = "metadata.json"

// Pack folds stagingDir into a single zstd-compressed tar at artifactPath.
// Member paths are stored relative to the staging root, so the artifact is
// relocatable. The artifact is written under a temporary name and renamed
// into place only on success; a failure mid-pack never leaves a truncated
// file under the final name.
func Pack(stagingDir, artifactPath string) (err error) {
	tmpPath := artifactPath + ".partial"
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	out, err := os.Create(tmpPath)
	if err != nil {
		return &CompressionError{Op: "pack", Path: artifactPath, Err: err}
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return &CompressionError{Op: "pack", Path: artifactPath, Err: err}
	}
	tw := tar.NewWriter(zw)

	members, err := stagingMembers(stagingDir)
	if err != nil {
		return &CompressionError{Op: "pack", Path: stagingDir, Err: err}
	}
	for _, member := range members {
		if err := addMember(tw, stagingDir, member); err != nil {
			return &CompressionError{Op: "pack", Path: member, Err: err}
		}
	}

	if err := tw.Close(); err != nil {
		return &CompressionError{Op: "pack", Path: artifactPath, Err: err}
	}
	if err := zw.Close(); err != nil {
		return &CompressionError{Op: "pack", Path: artifactPath, Err: err}
	}
	if err := out.Sync(); err != nil {
		return &CompressionError{Op: "pack", Path: artifactPath, Err: err}
	}
	if err := out.Close(); err != nil {
		return &CompressionError{Op: "pack", Path: artifactPath, Err: err}
	}

	if err := os.Rename(tmpPath, artifactPath); err != nil {
		return &CompressionError{Op: "pack", Path: artifactPath, Err: err}
	}
	return nil
}

// stagingMembers lists the regular files under stagingDir as sorted
// slash-separated relative paths, with the metadata member first. The same
// staging tree always yields the same member list.
func stagingMembers(stagingDir string) ([]string, error) {
	var members []string
	err := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		members = append(members, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i] == MetadataMember {
			return true
		}
		if members[j] == MetadataMember {
			return false
		}
		return members[i] < members[j]
	})
	return members, nil
}

func addMember(tw *tar.Writer, stagingDir, member string) error {
	path := filepath.Join(stagingDir, filepath.FromSlash(member))
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = member
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// ListMembers returns the member paths inside an artifact in stored order.
func ListMembers(artifactPath string) ([]string, error) {
	var members []string
	err := readArtifact(artifactPath, func(hdr *tar.Header, r io.Reader) error {
		members = append(members, hdr.Name)
		return nil
	})
	if err != nil {
		return nil, &CompressionError{Op: "list", Path: artifactPath, Err: err}
	}
	return members, nil
}

// ExtractAll unpacks every member of an artifact into destDir. Member paths
// are validated against directory traversal before anything is written.
func ExtractAll(artifactPath, destDir string) error {
	err := readArtifact(artifactPath, func(hdr *tar.Header, r io.Reader) error {
		target, err := memberTarget(destDir, hdr.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
	if err != nil {
		return &CompressionError{Op: "extract", Path: artifactPath, Err: err}
	}
	return nil
}

// ReadMember streams a single member of an artifact. Returns fs.ErrNotExist
// when the member is absent.
func ReadMember(artifactPath, name string) ([]byte, error) {
	var data []byte
	found := false
	err := readArtifact(artifactPath, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name != name {
			return nil
		}
		found = true
		var err error
		data, err = io.ReadAll(r)
		if err != nil {
			return err
		}
		return errStopIteration
	})
	if err != nil {
		return nil, &CompressionError{Op: "extract", Path: artifactPath, Err: err}
	}
	if !found {
		return nil, fmt.Errorf("member %q: %w", name, fs.ErrNotExist)
	}
	return data, nil
}

var errStopIteration = errors.New("stop iteration")

// readArtifact walks an artifact's members, decompressing as it goes. The
// zstd frame checksums make a full walk double as an integrity check.
func readArtifact(artifactPath string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(artifactPath)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(hdr, tr); err != nil {
			if errors.Is(err, errStopIteration) {
				return nil
			}
			return err
		}
	}
}

// VerifyIntegrity reads every member to completion so that every zstd frame
// checksum is validated. Returns the member count.
func VerifyIntegrity(artifactPath string) (int, error) {
	count := 0
	err := readArtifact(artifactPath, func(hdr *tar.Header, r io.Reader) error {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// memberTarget resolves a member path under destDir, rejecting absolute
// paths and traversal outside the destination.
func memberTarget(destDir, member string) (string, error) {
	if filepath.IsAbs(member) {
		return "", fmt.Errorf("absolute member path %q", member)
	}
	target := filepath.Join(destDir, filepath.FromSlash(member))
	if target != destDir && !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("member path %q escapes destination", member)
	}
	return target, nil
}
