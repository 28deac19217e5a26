package local

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/gobeaver/vfskit"
	"github.com/sirupsen/logrus"
)

// watch signals the returned token on the first fsnotify event for p. The
// token is spent after one change; the watcher is closed then or when ctx
// is done.
func watch(ctx context.Context, p string, log logrus.FieldLogger) (*vfskit.CallbackChangeToken, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(p); err != nil {
		w.Close()
		return nil, err
	}

	token := vfskit.NewCallbackChangeToken()
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				log.WithField("event", event.Op.String()).Debug("file changed")
				token.SignalChange()
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("watch error")
			}
		}
	}()
	return token, nil
}
