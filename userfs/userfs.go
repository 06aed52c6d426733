// Package userfs implements an in-memory, block-structured filesystem with
// POSIX-like open/read/write/close/delete/resize semantics.
//
// Files are stored as a chain of fixed-size blocks. A file survives under
// its refcount (descriptors plus one iff still linked in the directory)
// after Delete unlinks its name, so descriptors already open on a deleted
// file keep working until closed -- unlinked-but-open semantics, the same
// contract the teacher's in-memory sample filesystem gives its inodes.
package userfs

import (
	"fmt"

	"github.com/jacobsa/syncutil"
)

const (
	// BlockSize is the fixed size, in bytes, of every block in every file.
	BlockSize = 512

	// MaxFileSize is the largest a file's logical size may grow to.
	MaxFileSize = 100 * 1024 * 1024
)

// Code identifies the kind of failure reported by an Error.
type Code int

const (
	CodeNone Code = iota
	CodeNoFile
	CodeNoMem
	CodeNoPermission
)

// Error is the closed error enum this package reports, mirroring the
// original implementation's ufs_errno.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeNoFile:
		return "userfs: no such file"
	case CodeNoMem:
		return "userfs: file too large"
	case CodeNoPermission:
		return "userfs: permission denied"
	default:
		return fmt.Sprintf("userfs: error code %d", e.Code)
	}
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

var (
	ErrNoFile       error = &Error{CodeNoFile}
	ErrNoMem        error = &Error{CodeNoMem}
	ErrNoPermission error = &Error{CodeNoPermission}
)

// Flag controls the access mode and creation behavior of Open.
type Flag int

const (
	// ReadWrite is the default when neither ReadOnly nor WriteOnly is set.
	ReadOnly Flag = 1 << iota
	WriteOnly
	Create
)

// file_ is a named file: a chain of fixed-size blocks plus a logical size.
//
// GUARDED_BY(FS.mu)
type file_ struct {
	name     string
	blocks   [][]byte
	occupied []int // occupied[i] == bytes used in blocks[i]
	size     int
	refs     int // descriptors open on this file, plus one iff linked
	linked   bool
}

// Descriptor is a handle into an FS's descriptor table: an access mode plus
// a logical cursor cached as (block number, in-block offset).
//
// GUARDED_BY(FS.mu)
type Descriptor struct {
	file        *file_
	flags       Flag
	blockNumber int
	offset      int
}

// FS is process-wide filesystem state: a directory of named files and a
// descriptor table, both with free-slot reuse identical to corobus's
// channel-handle reuse policy.
//
// FS is not safe for concurrent use by multiple goroutines without external
// synchronization -- the spec models userfs as a single-threaded-caller
// subsystem. The embedded InvariantMutex exists only to catch accidental
// concurrent misuse under "go test -race"-style invariant checking, not to
// provide real thread safety.
type FS struct {
	mu          syncutil.InvariantMutex
	files       map[string]*file_ // GUARDED_BY(mu)
	descriptors []*Descriptor     // GUARDED_BY(mu); nil entries are free slots
}

// New creates an empty FS.
func New() *FS {
	fs := &FS{files: make(map[string]*file_)}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs
}

func (fs *FS) checkInvariants() {
	for name, f := range fs.files {
		if f.name != name {
			panic(fmt.Sprintf("file keyed as %q has name %q", name, f.name))
		}
		if f.size != sumOccupied(f.occupied) {
			panic(fmt.Sprintf("file %q size %d != occupied sum", name, f.size))
		}
	}
}

func sumOccupied(occupied []int) int {
	n := 0
	for _, o := range occupied {
		n += o
	}
	return n
}

// Open opens name, creating it if flags includes Create and it does not
// exist. Returns a file descriptor valid until Close.
func (fs *FS) Open(name string, flags Flag) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[name]
	if !ok {
		if flags&Create == 0 {
			return -1, ErrNoFile
		}
		f = &file_{name: name, linked: true, refs: 1}
		fs.files[name] = f
	}

	return fs.createDescriptor(f, flags), nil
}

func (fs *FS) createDescriptor(f *file_, flags Flag) int {
	f.refs++
	d := &Descriptor{file: f, flags: flags}

	for i, slot := range fs.descriptors {
		if slot == nil {
			fs.descriptors[i] = d
			return i
		}
	}
	fs.descriptors = append(fs.descriptors, d)
	return len(fs.descriptors) - 1
}

func (fs *FS) descriptor(fd int) (*Descriptor, error) {
	if fd < 0 || fd >= len(fs.descriptors) || fs.descriptors[fd] == nil {
		return nil, ErrNoFile
	}
	return fs.descriptors[fd], nil
}

// rewind clamps the descriptor's cursor to the file's current size if it
// has drifted beyond it, then re-walks the block pointer from the head --
// mirroring the original's per-I/O rewind-on-overrun check.
func rewind(d *Descriptor) {
	if d.blockNumber*BlockSize+d.offset <= d.file.size {
		return
	}
	d.blockNumber = d.file.size / BlockSize
	d.offset = d.file.size % BlockSize
}

// Write writes buf to fd's current position, growing the file and
// allocating new blocks as needed, clamped at MaxFileSize.
func (fs *FS) Write(fd int, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return -1, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if d.flags&ReadOnly != 0 {
		return -1, ErrNoPermission
	}

	f := d.file
	rewind(d)

	written := 0
	for written < len(buf) {
		for d.blockNumber >= len(f.blocks) {
			f.blocks = append(f.blocks, make([]byte, BlockSize))
			f.occupied = append(f.occupied, 0)
		}

		room := BlockSize - d.offset
		if room == 0 {
			d.blockNumber++
			d.offset = 0
			continue
		}

		n := room
		if rem := len(buf) - written; n > rem {
			n = rem
		}

		copy(f.blocks[d.blockNumber][d.offset:], buf[written:written+n])
		d.offset += n

		if f.occupied[d.blockNumber] < d.offset {
			grew := d.offset - f.occupied[d.blockNumber]
			f.occupied[d.blockNumber] = d.offset
			f.size += grew
			if f.size > MaxFileSize {
				over := f.size - MaxFileSize
				f.occupied[d.blockNumber] -= over
				d.offset -= over
				f.size = MaxFileSize
				return -1, ErrNoMem
			}
		}

		written += n
	}

	return written, nil
}

// Read reads up to len(buf) bytes from fd's current position, returning a
// short count at end of file.
func (fs *FS) Read(fd int, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return -1, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if d.flags&WriteOnly != 0 {
		return -1, ErrNoPermission
	}

	f := d.file
	rewind(d)

	read := 0
	for read < len(buf) {
		if d.blockNumber >= len(f.blocks) {
			break
		}
		avail := f.occupied[d.blockNumber] - d.offset
		if avail <= 0 {
			if d.blockNumber+1 >= len(f.blocks) {
				break
			}
			d.blockNumber++
			d.offset = 0
			continue
		}

		n := avail
		if rem := len(buf) - read; n > rem {
			n = rem
		}
		copy(buf[read:], f.blocks[d.blockNumber][d.offset:d.offset+n])
		d.offset += n
		read += n

		if d.offset == BlockSize {
			d.blockNumber++
			d.offset = 0
		}
	}

	return read, nil
}

// Close releases fd. The underlying file is freed once its refcount (open
// descriptors plus one iff still linked) reaches zero.
func (fs *FS) Close(fd int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return err
	}
	fs.descriptors[fd] = nil

	d.file.refs--
	return nil
}

// Delete unlinks name from the directory immediately; the underlying file
// object survives until its last open descriptor closes.
func (fs *FS) Delete(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[name]
	if !ok {
		return ErrNoFile
	}
	delete(fs.files, name)
	f.linked = false
	f.refs--
	return nil
}

// Resize shrinks fd's file to exactly newSize bytes, or, when newSize is
// larger than the file, preallocates blocks to cover newSize.
//
// Growing preallocates zero blocks to cover newSize but does not advance
// file.size -- reads past the old size still return 0 until a Write extends
// the file. This mirrors the original implementation's resize-grow
// behavior; the specification leaves whether that is intentional as an open
// question and this port preserves it rather than silently fixing it.
func (fs *FS) Resize(fd int, newSize int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return err
	}
	if d.flags&ReadOnly != 0 {
		return ErrNoPermission
	}
	if newSize > MaxFileSize {
		return ErrNoMem
	}

	f := d.file
	switch {
	case f.size < newSize:
		expand(f, newSize)
	case f.size > newSize:
		shrink(f, newSize)
	}
	return nil
}

func expand(f *file_, newSize int) {
	if newSize == 0 {
		return
	}
	blocksNeeded := (newSize + BlockSize - 1) / BlockSize
	for len(f.blocks) < blocksNeeded {
		f.blocks = append(f.blocks, make([]byte, BlockSize))
		f.occupied = append(f.occupied, 0)
	}
}

func shrink(f *file_, newSize int) {
	if newSize == 0 {
		f.blocks = nil
		f.occupied = nil
		f.size = 0
		return
	}
	lastBlock := (newSize - 1) / BlockSize
	f.blocks = f.blocks[:lastBlock+1]
	f.occupied = f.occupied[:lastBlock+1]
	f.occupied[lastBlock] = newSize - lastBlock*BlockSize
	f.size = newSize
}

// Destroy closes every open descriptor and deletes every remaining file.
// Calling Destroy a second time on an already-destroyed FS is a no-op.
func (fs *FS) Destroy() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i, d := range fs.descriptors {
		if d != nil {
			d.file.refs--
			fs.descriptors[i] = nil
		}
	}
	fs.descriptors = nil
	fs.files = make(map[string]*file_)
}
