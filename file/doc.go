// Package file implements the sandbox's file calls. Files live in one
// flat directory; each open file holds a "filesopened" token and every
// read or write is charged in whole 4K blocks against "fileread" and
// "filewrite".
//
// A name may be open through at most one handle at a time:
//
//	f, err := host.OpenFile("data.log", true)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	_, err = host.OpenFile("data.log", false) // FileInUse
package file
