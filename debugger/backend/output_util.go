package backend

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	e "github.com/fansqz/debug-engine/error"
)

// NewDialect 根据后端类型创建命令方言，空值默认gdb
func NewDialect(kind constants.BackendKind) (debugger.Dialect, error) {
	switch kind {
	case "", constants.BackendGDB:
		return &GDBDialect{}, nil
	case constants.BackendLLDB:
		return &LLDBDialect{}, nil
	}
	return nil, fmt.Errorf("%w: %s", e.ErrBackendNotSupport, kind)
}

// submatch 返回正则的子匹配，不匹配时ok为false
func submatch(re *regexp.Regexp, line string) ([]string, bool) {
	m := re.FindStringSubmatch(line)
	return m, m != nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// trimPrompt 去掉行首重复出现的提示符
func trimPrompt(line string, prompt string) string {
	line = strings.TrimRight(line, "\r")
	for strings.HasPrefix(line, prompt) {
		line = strings.TrimPrefix(line, prompt)
	}
	return line
}

// quote 带空格的路径需要加引号
func quote(s string) string {
	if strings.ContainsAny(s, " \t") {
		return strconv.Quote(s)
	}
	return s
}

// SameFile 比较后端输出的文件和断点文件，后端可能只输出文件名
func SameFile(a, b string) bool {
	if a == b {
		return true
	}
	return filepath.Base(a) == filepath.Base(b)
}
