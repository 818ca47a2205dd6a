package filesystem

import (
	"github.com/gabriel-vasile/mimetype"
	"github.com/juju/ratelimit"

	"github.com/pterodactyl/streamfs/internal/progress"
	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

// CopyOptions configure Copy. Start and End select the byte range of the
// source file, Mode the permissions of the destination. A positive RateLimit
// caps the transfer at that many bytes per second. Progress, when set,
// counts the bytes read from src.
type CopyOptions struct {
	Start     *int64
	End       *int64
	Mode      *ufs.FileMode
	RateLimit int64
	Progress  *progress.Progress
}

// Copy streams the contents of src into dst, replacing whatever dst held.
func (fs *Filesystem) Copy(src, dst string, opts CopyOptions) pull.Continuable[struct{}] {
	return func(cb func(struct{}, error)) {
		source := fs.ReadStream(src, ReadOptions{Start: opts.Start, End: opts.End})
		if opts.RateLimit > 0 {
			source = pull.Throttle(source, ratelimit.NewBucketWithRate(float64(opts.RateLimit), opts.RateLimit))
		}
		if opts.Progress != nil {
			source = opts.Progress.Source(source)
		}
		fs.WriteStream(dst, WriteOptions{Mode: opts.Mode})(source)(func(err error) {
			cb(struct{}{}, err)
		})
	}
}

// Sniff detects the MIME type of the file at path from its first chunk. The
// rest of the file is never read.
func (fs *Filesystem) Sniff(p string) pull.Continuable[string] {
	return func(cb func(string, error)) {
		source := fs.ReadStream(p, ReadOptions{})
		source(nil, func(chunk []byte, ok bool, err error) {
			if err != nil {
				cb("", err)
				return
			}
			if !ok {
				cb(mimetype.Detect(nil).String(), nil)
				return
			}
			source(pull.ErrCancel, func([]byte, bool, error) {
				cb(mimetype.Detect(chunk).String(), nil)
			})
		})
	}
}
