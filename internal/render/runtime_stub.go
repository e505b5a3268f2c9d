//go:build !govips || !cgo

package render

func Startup() error {
	return nil
}

func Shutdown() {}

func newEncoder() encoder {
	return stdlibEncoder{}
}
