// Package download streams a URL into a directory.
//
// The output file is named after the filename= directive of the response's
// Content-Disposition header and is written chunk by chunk while the body
// arrives, so memory use does not depend on the file size. Requests opt out
// of transport compression, which keeps Content-Length equal to the number
// of bytes written and makes it usable as the progress total.
//
// # Usage
//
//	d := download.New(download.Options{Progress: bar})
//	path, err := d.Download(ctx, "https://example.com/dl/tool", stagingDir)
//	if err != nil {
//	    return err
//	}
//
// Errors are *towerr.Error values: NotADirectory, URLParse, Network,
// HeaderMissing, FilenameUnparsable or IO.
package download
