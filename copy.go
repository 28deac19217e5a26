package vfskit

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Copy copies src to dst. Directories are copied recursively. Each file
// is copied server side when src supports it and dst is on the same realm,
// and through this process otherwise.
func Copy(ctx context.Context, src, dst File) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := checkWritable(src, dst); err != nil {
		return err
	}
	if src.IsDir() {
		return copyDir(ctx, src, dst)
	}
	if src.IsOperationSupported(OpCopyRemotely) {
		err := src.CopyRemotelyTo(ctx, dst)
		if !errors.Is(err, ErrCrossRealm) {
			return err
		}
	}
	return copyBytes(ctx, src, dst)
}

// checkWritable fails when dst cannot take src. It runs before any driver
// sees dst, since drivers look through decorators to find their own files.
func checkWritable(src, dst File) error {
	switch {
	case src.IsDir() && !dst.Exists() && !dst.IsOperationSupported(OpMkdir):
		return Unsupported(OpMkdir, dst.URL())
	case !src.IsDir() && !dst.IsOperationSupported(OpWrite):
		return Unsupported(OpWrite, dst.URL())
	}
	return nil
}

func copyDir(ctx context.Context, src, dst File) error {
	if !dst.Exists() {
		if err := dst.Mkdir(ctx); err != nil {
			return err
		}
	}
	children, err := src.List(ctx, nil)
	if err != nil {
		return err
	}
	for _, child := range children {
		target, err := ChildOf(ctx, dst, child.Name())
		if err != nil {
			return err
		}
		if err := Copy(ctx, child, target); err != nil {
			return err
		}
	}
	return nil
}

// ChildResolver is implemented by files that can create handles for names
// below them without listing. Copy needs it to address files that do not
// exist yet.
type ChildResolver interface {
	Child(ctx context.Context, name string) (File, error)
}

// ChildOf returns the file called name in dir, looking through wrappers for
// a ChildResolver.
func ChildOf(ctx context.Context, dir File, name string) (File, error) {
	for f := dir; f != nil; {
		if cr, ok := f.(ChildResolver); ok {
			return cr.Child(ctx, name)
		}
		w, ok := f.(Wrapper)
		if !ok {
			break
		}
		f = w.Target()
	}
	return nil, NewPathError("child", dir.URL().Child(name).String(),
		fmt.Errorf("%w: cannot address children", ErrNotSupported))
}

func copyBytes(ctx context.Context, src, dst File) error {
	r, err := src.OpenReader(ctx, 0)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := dst.OpenWriter(ctx, WriteTruncate)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, &contextReader{ctx: ctx, r: r}); err != nil {
		w.Close()
		return WrapPathErr("copy", dst.URL().String(), err)
	}
	if err := w.Close(); err != nil {
		return WrapPathErr("copy", dst.URL().String(), err)
	}
	if dst.IsOperationSupported(OpChangeDate) {
		// best effort, like cp -p on a file system that refuses utimes
		_ = dst.SetModTime(ctx, src.ModTime())
	}
	return nil
}

// Move moves src to dst, renaming when both are on the same realm and
// copying then deleting otherwise.
func Move(ctx context.Context, src, dst File) error {
	if err := checkWritable(src, dst); err != nil {
		return err
	}
	if src.IsOperationSupported(OpRename) {
		err := src.RenameTo(ctx, dst)
		if !errors.Is(err, ErrCrossRealm) {
			return err
		}
	}
	if err := Copy(ctx, src, dst); err != nil {
		return err
	}
	return DeleteRecursively(ctx, src)
}

// DeleteRecursively deletes f and, for directories, everything below it.
// Symbolic links and other link-like files report IsSymlink and are deleted,
// never followed. Children are deleted through the decorators that listed
// them.
func DeleteRecursively(ctx context.Context, f File) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if !f.IsOperationSupported(OpDelete) {
		return Unsupported(OpDelete, f.URL())
	}
	if f.IsDir() && !f.IsSymlink() {
		children, err := f.List(ctx, nil)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := DeleteRecursively(ctx, child); err != nil {
				return err
			}
		}
	}
	return f.Delete(ctx)
}

// contextReader stops a copy when ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
