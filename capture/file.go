package capture

import (
	"bytes"
	"io"
	"net/netip"
	"os"
	"time"
)

// HeadSize is how many leading bytes are kept to recognize a file that was
// rewritten from the start by a new connection.
const HeadSize = 512

// Fingerprint is the observable identity of a capture file at one moment.
type Fingerprint struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	Inode   uint64    `json:"inode"`
	Head    []byte    `json:"-"`
}

// Changed reports any mutation between two observations.
func (f Fingerprint) Changed(prev Fingerprint) bool {
	return f.Size != prev.Size || !f.ModTime.Equal(prev.ModTime) || f.Inode != prev.Inode ||
		!bytes.Equal(f.Head, prev.Head)
}

// Supersedes reports whether f can only be explained by the capture tool
// starting a new connection under the same name: the inode changed, the
// file shrank, or bytes already seen were rewritten.
func (f Fingerprint) Supersedes(prev Fingerprint) bool {
	if f.Inode != 0 && prev.Inode != 0 && f.Inode != prev.Inode {
		return true
	}
	if f.Size < prev.Size {
		return true
	}
	return !bytes.HasPrefix(f.Head, prev.Head)
}

// CaptureFile is one direction of one TCP connection as written by tcpflow.
type CaptureFile struct {
	Path        string
	Name        string
	Src         netip.AddrPort
	Dst         netip.AddrPort
	Key         ConnKey
	Fingerprint Fingerprint
	FirstSeenAt time.Time
}

// Stat fingerprints path. The head sample is read only when the file
// changed against prev, otherwise prev's sample is reused.
func Stat(path string, prev *Fingerprint) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	fp := Fingerprint{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Inode:   inodeOf(path, info),
	}
	if prev != nil && prev.Size == fp.Size && prev.ModTime.Equal(fp.ModTime) && prev.Inode == fp.Inode {
		fp.Head = prev.Head
		return fp, nil
	}
	fp.Head, err = readHead(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return fp, nil
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, HeadSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:n], nil
}

// ReadSnapshot reads the file content and re-stats it afterwards. The
// returned fingerprint describes the bytes read only when it equals the
// fingerprint taken before the read; callers compare the two.
func ReadSnapshot(path string) ([]byte, Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Fingerprint{}, err
	}
	fp, err := Stat(path, nil)
	if err != nil {
		return nil, Fingerprint{}, err
	}
	return data, fp, nil
}
