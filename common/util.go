package common

import "os"

func PanicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}

// Remove deletes the file at path ignoring any error. Meant for test cleanup.
func Remove(path string) {
	_ = os.Remove(path)
}
