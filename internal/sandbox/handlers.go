package sandbox

import (
	"io"
	"log"
	"os"
	"sort"

	"github.com/pkg/sftp"
)

// Handlers builds the SFTP request handlers serving a view. Reads and
// listings work; every mutating request is refused with a permission
// error before any path resolution happens.
func Handlers(view *View) sftp.Handlers {
	fs := &readOnlyFS{view: view}
	return sftp.Handlers{
		FileGet:  fs,
		FilePut:  fs,
		FileCmd:  fs,
		FileList: fs,
	}
}

type readOnlyFS struct {
	view *View
}

func (fs *readOnlyFS) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	p, err := fs.resolve(r)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, mapOSError(err)
	}
	return f, nil
}

func (fs *readOnlyFS) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	log.Printf("[sandbox] write refused: method=%s path=%s", r.Method, r.Filepath)
	return nil, sftp.ErrSSHFxPermissionDenied
}

func (fs *readOnlyFS) Filecmd(r *sftp.Request) error {
	// Rename, Remove, Mkdir, Rmdir, Setstat, Symlink: all mutations.
	log.Printf("[sandbox] command refused: method=%s path=%s", r.Method, r.Filepath)
	return sftp.ErrSSHFxPermissionDenied
}

func (fs *readOnlyFS) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	p, err := fs.resolve(r)
	if err != nil {
		return nil, err
	}

	switch r.Method {
	case "List":
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, mapOSError(err)
		}
		infos := make([]os.FileInfo, 0, len(entries))
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			infos = append(infos, info)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
		return listerat(infos), nil
	case "Stat", "Lstat":
		info, err := os.Stat(p)
		if err != nil {
			return nil, mapOSError(err)
		}
		return listerat{info}, nil
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

func (fs *readOnlyFS) resolve(r *sftp.Request) (string, error) {
	p, err := fs.view.Resolve(r.Filepath)
	if err != nil {
		log.Printf("[sandbox] path refused: method=%s path=%s err=%v", r.Method, r.Filepath, err)
		return "", sftp.ErrSSHFxPermissionDenied
	}
	return p, nil
}

// mapOSError keeps filesystem details out of the wire protocol.
func mapOSError(err error) error {
	switch {
	case os.IsNotExist(err):
		return sftp.ErrSSHFxNoSuchFile
	case os.IsPermission(err):
		return sftp.ErrSSHFxPermissionDenied
	default:
		return sftp.ErrSSHFxFailure
	}
}

// listerat serves a fixed slice of FileInfos to the request server.
type listerat []os.FileInfo

func (l listerat) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dst, l[offset:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}
