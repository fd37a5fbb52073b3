package vlabel

import (
	"io"

	"github.com/pooldev/vdevlabel/pkg/elog"
)

// noopView is the zero-value elog.View used when a caller passes a nil
// logger, mirroring the teacher's nilProgress fallback in pkg/elog.
type noopView struct{}

func (noopView) Debugf(string, ...interface{})      {}
func (noopView) Errorf(string, ...interface{})      {}
func (noopView) Infof(string, ...interface{})       {}
func (noopView) Printf(string, ...interface{})      {}
func (noopView) Warnf(string, ...interface{})       {}
func (noopView) IsInfoEnabled() bool                { return false }
func (noopView) IsDebugEnabled() bool               { return false }
func (noopView) NewProgress(string, string, int64) elog.Progress {
	return noopProgress{}
}

type noopProgress struct{}

func (noopProgress) Finish(bool)         {}
func (noopProgress) Increment(int64)     {}
func (noopProgress) Write(p []byte) (int, error) { return len(p), nil }
func (noopProgress) Seek(int64, int) (int64, error) { return 0, nil }
func (noopProgress) ProxyReader(r io.Reader) io.ReadCloser {
	rc, ok := r.(io.ReadCloser)
	if ok {
		return rc
	}
	return io.NopCloser(r)
}

func view(v elog.View) elog.View {
	if v == nil {
		return noopView{}
	}
	return v
}

var _ elog.View = noopView{}
