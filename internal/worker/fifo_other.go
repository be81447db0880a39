//go:build !unix

package worker

import "errors"

func mkfifo(string) error {
	return errors.New("named pipes are not supported on this platform, use the tflite backend")
}
