package common

import (
	"strings"
)

func CheckFatal(e error) {
	if e != nil {
		Log.Fatal(e)
	}
}

func CheckWarn(e error) {
	if e != nil {
		Log.Warnln(e)
	}
}

// Assert test is true, panic otherwise
func Assert(test bool, msg ...string) {
	if !test {
		if len(msg) > 0 {
			panic("Assertion failure: " + strings.Join(msg, " "))
		}
		panic("Assertion failure")
	}
}
