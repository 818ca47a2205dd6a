package filesystem

import (
	"encoding/base64"
	"encoding/hex"

	"emperror.dev/errors"

	"github.com/pterodactyl/streamfs/pull"
)

// ErrUnknownEncoding is returned by ReadString and WriteString for an
// encoding other than "", "utf8", "utf-8", "hex" or "base64".
const ErrUnknownEncoding = errors.Sentinel("filesystem: unknown encoding")

func encode(b []byte, encoding string) (string, error) {
	switch encoding {
	case "", "utf8", "utf-8":
		return string(b), nil
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(b), nil
	}
	return "", errors.WithDetails(ErrUnknownEncoding, "encoding", encoding)
}

func decode(s string, encoding string) ([]byte, error) {
	switch encoding {
	case "", "utf8", "utf-8":
		return []byte(s), nil
	case "hex":
		return hex.DecodeString(s)
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	}
	return nil, errors.WithDetails(ErrUnknownEncoding, "encoding", encoding)
}

// ReadString returns the contents of path decoded as text in the given
// encoding.
func (fs *Filesystem) ReadString(p string, encoding string) pull.Continuable[string] {
	return func(cb func(string, error)) {
		if _, err := encode(nil, encoding); err != nil {
			cb("", err)
			return
		}
		fs.Read(p)(func(b []byte, err error) {
			if err != nil {
				cb("", err)
				return
			}
			cb(encode(b, encoding))
		})
	}
}

// WriteString replaces the contents of path with data, encoded as text in
// the given encoding.
func (fs *Filesystem) WriteString(p string, data string, encoding string) pull.Continuable[struct{}] {
	return func(cb func(struct{}, error)) {
		b, err := decode(data, encoding)
		if err != nil {
			cb(struct{}{}, err)
			return
		}
		fs.Write(p, b)(cb)
	}
}
