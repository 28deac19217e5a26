// Package vfskit provides a virtual file system: one File interface over
// local disks, SFTP servers, object stores and the entries of archive
// files, addressed by URL.
//
// Files are created by a [Registry], which maps URL schemes to providers.
// Archives met along a path are opened transparently, so a ZIP file on an
// SFTP server can be browsed like any directory.
//
// # Providers
//
//   - Local filesystem, scheme "file" (github.com/gobeaver/vfskit/driver/local)
//   - In-memory, scheme "mem" (github.com/gobeaver/vfskit/driver/memory)
//   - SFTP, scheme "sftp" (github.com/gobeaver/vfskit/driver/sftp)
//   - Amazon S3, scheme "s3" (github.com/gobeaver/vfskit/driver/s3)
//   - MinIO and other S3-compatible servers, scheme "minio" (github.com/gobeaver/vfskit/driver/minio)
//   - Google Cloud Storage, scheme "gs" (github.com/gobeaver/vfskit/driver/gcs)
//   - Azure Blob Storage, scheme "azure" (github.com/gobeaver/vfskit/driver/azure)
//   - Bookmarks, scheme "bookmark" (github.com/gobeaver/vfskit/bookmark)
//   - Search results, scheme "search" (github.com/gobeaver/vfskit/search)
//
// Archive formats live under github.com/gobeaver/vfskit/archive: zip, tar
// (plain, gzip, bzip2 and zstd), single file gz/bz2/zst, ar, 7z and rar.
//
// # Basic Usage
//
//	reg := vfskit.NewRegistry(vfskit.WithArchiveFormats(formats))
//	reg.Register(vfskit.FileScheme, local.New())
//
//	f, err := reg.Resolve(ctx, "file:///data/release.zip/docs/readme.txt", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r, err := f.OpenReader(ctx, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
// The defaults package builds a registry with every provider and format
// from environment configuration:
//
//	reg, err := defaults.New(cfg)
//
// # Capability Probing
//
// Not every file kind supports every operation. Check before acting:
//
//	if f.IsOperationSupported(vfskit.OpRename) {
//	    err = f.RenameTo(ctx, dst)
//	}
//
// Operations outside SupportedOperations fail with [ErrNotSupported]
// without side effects.
//
// # Addresses
//
// A [FileURL] has the form scheme://[login[:password]@]host[:port]/path[?query].
// String omits the password; use Format(CredentialsFull) to keep it.
//
//	u, _ := vfskit.ParseURL("sftp://user@host:2222/home/user")
//	u.Parent() // sftp://user@host:2222/home
//
// # Error Handling
//
// Operations return [*PathError] wrapping sentinel errors:
//
//	if errors.Is(err, vfskit.ErrNotExist) {
//	    // handle missing file
//	}
//
// Rejected credentials are reported as [*AuthError], which matches
// [ErrAuthFailed] and carries the URL to retry with new credentials.
//
// # Copying
//
// [Copy] and [Move] use server side copy and rename when both files are
// on the same realm, and stream the bytes otherwise. [DeleteRecursively]
// deletes directory trees.
//
// # Delegation
//
// Wrappers embed [*ProxyFile] and override only what they change.
// [Unwrap] and [As] reach the files beneath. [ReadOnly] and [Restrict]
// narrow the operations of a file or a whole tree; [Encrypt] stores
// content encrypted with AES-GCM.
//
// # Watching
//
// Files implementing [CanWatch] return a [ChangeToken]. Local files use
// file system events; SFTP and object store files poll.
package vfskit
