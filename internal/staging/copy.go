package staging

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// copyFileVerified copies src to dst and confirms the written bytes hash
// to the same digest as the source. Destination mode follows the source.
func copyFileVerified(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	srcHash := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, srcHash), in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	if written != info.Size() {
		os.Remove(dst)
		return fmt.Errorf("short copy of %s: wrote %d of %d bytes", src, written, info.Size())
	}

	dstHash := sha256.New()
	check, err := os.Open(dst)
	if err != nil {
		return err
	}
	defer check.Close()
	if _, err := io.Copy(dstHash, check); err != nil {
		return err
	}
	if fmt.Sprintf("%x", srcHash.Sum(nil)) != fmt.Sprintf("%x", dstHash.Sum(nil)) {
		os.Remove(dst)
		return fmt.Errorf("digest mismatch copying %s", src)
	}
	return nil
}
