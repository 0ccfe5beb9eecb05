package common

import "strings"

type PPLevel int8

const (
	PPL0 PPLevel = iota
	PPL1
	PPL2
)

func RepeatStr(str string, times int) string {
	if times <= 0 {
		return ""
	}
	return strings.Repeat(str, times)
}
