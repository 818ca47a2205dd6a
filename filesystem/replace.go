package filesystem

import (
	"path"

	"github.com/google/uuid"

	"github.com/pterodactyl/streamfs/pull"
)

// ReplaceStream returns a Sink like WriteStream, except that the chunks go
// to a temporary file next to path which is renamed over path once the
// source ended cleanly. Readers of path never see a partial file. When
// anything fails the temporary file is removed and path is left as it was.
func (fs *Filesystem) ReplaceStream(p string, opts WriteOptions) pull.Sink[[]byte] {
	return func(source pull.Source[[]byte]) pull.Drain {
		return func(done func(error)) {
			tmp := path.Join(path.Dir(p), "."+path.Base(p)+"."+uuid.NewString()+".tmp")
			fs.WriteStream(tmp, opts)(source)(func(err error) {
				if err != nil {
					fs.discard(tmp, err, done)
					return
				}
				fs.Rename(tmp, p)(func(_ struct{}, err error) {
					if err != nil {
						fs.discard(tmp, err, done)
						return
					}
					done(nil)
				})
			})
		}
	}
}

// discard removes the temporary file tmp and reports cause.
func (fs *Filesystem) discard(tmp string, cause error, done func(error)) {
	fs.Unlink(tmp)(func(_ struct{}, err error) {
		if err != nil {
			fs.log().WithField("path", tmp).WithField("error", err).Debug("failed to remove temporary file")
		}
		done(cause)
	})
}
