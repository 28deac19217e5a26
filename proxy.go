package vfskit

// ProxyFile forwards the whole File contract to a wrapped file. Types that
// layer behavior over another file embed *ProxyFile and define only the
// methods they change; everything else, URL and equality included, comes
// from the target.
//
// A wrapper that overrides SupportedOperations must also override
// IsOperationSupported, otherwise the probe still answers for the target.
//
//	type bookmarkFile struct {
//	    *vfskit.ProxyFile
//	    name string
//	}
//
//	func (f *bookmarkFile) Name() string { return f.name }
type ProxyFile struct {
	File
}

// NewProxyFile wraps target.
func NewProxyFile(target File) *ProxyFile {
	return &ProxyFile{File: target}
}

// Target returns the wrapped file.
func (p *ProxyFile) Target() File {
	return p.File
}

// Wrapper is implemented by files that delegate to another file.
type Wrapper interface {
	Target() File
}

// Unwrap peels every delegation layer off f and returns the innermost file.
func Unwrap(f File) File {
	for {
		w, ok := f.(Wrapper)
		if !ok {
			return f
		}
		f = w.Target()
	}
}

// ContentTransformer is implemented by wrappers whose content differs from
// the content of their target, such as EncryptedFile.
type ContentTransformer interface {
	Wrapper
	TransformsContent()
}

// As walks the delegation chain of f and returns the first layer of type T.
// It does not look below a ContentTransformer, so drivers that find their
// own type in a destination never bypass a transformation.
func As[T File](f File) (T, bool) {
	for {
		if t, ok := f.(T); ok {
			return t, true
		}
		w, ok := f.(Wrapper)
		if _, opaque := f.(ContentTransformer); !ok || opaque {
			var zero T
			return zero, false
		}
		f = w.Target()
	}
}
