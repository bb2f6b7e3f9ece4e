package qualitygate

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// dangerousPattern pairs a regex against one source line with a
// human-readable finding description.
type dangerousPattern struct {
	re   *regexp.Regexp
	desc string
}

// dangerousPatterns recovers nightwire/autonomous/quality_gates.py's
// _DANGEROUS_PATTERNS list, generalized across the languages this
// orchestrator's managed projects may use (Python, JS/TS, Go, shell) since a
// driven project is not necessarily Python like the original tool's own
// codebase was.
var dangerousPatterns = []dangerousPattern{
	{regexp.MustCompile(`\bos\.system\s*\(`), "os.system() call — use an argument-list subprocess instead"},
	{regexp.MustCompile(`\bos\.popen\s*\(`), "os.popen() call — use an argument-list subprocess instead"},
	{regexp.MustCompile(`subprocess\.\w+\([^)]*shell\s*=\s*True`), "subprocess with shell=True — use an argument list"},
	{regexp.MustCompile(`\beval\s*\(`), "eval() call — potential code injection"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec() call — potential code injection"},
	{regexp.MustCompile(`__import__\s*\(`), "__import__() call — suspicious dynamic import"},
	{regexp.MustCompile(`exec\.Command\(\s*"(sh|bash)"\s*,\s*"-c"`), "exec.Command with shell -c — prefer an argument list"},
	{regexp.MustCompile(`child_process\.exec\s*\(`), "child_process.exec() — prefer execFile with an argument list"},
	{regexp.MustCompile(`(?i)(API_KEY|SECRET|PASSWORD|TOKEN)\s*[:=]\s*["'][^"']{8,}["']`), "possible hardcoded secret/API key"},
	{regexp.MustCompile(`requests\.(?:get|post|put|delete)\s*\(\s*["']https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`), "HTTP request to raw IP address — possible data exfiltration"},
	{regexp.MustCompile(`urllib\.request\.urlopen\s*\(\s*["']https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`), "URL request to raw IP address — possible data exfiltration"},
	{regexp.MustCompile(`\bpickle\.loads?\s*\(`), "pickle.load() — deserializing untrusted data is dangerous"},
}

var scannedExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".sh": true, ".rb": true,
}

var skipDirs = map[string]bool{
	"venv": true, ".venv": true, "__pycache__": true, ".git": true,
	"node_modules": true, "vendor": true, "dist": true, "build": true,
}

// SecurityScan walks projectPath looking for dangerous constructs in source
// files and returns a finding string per match ("path:line: description"),
// matching quality_gates.py's security_scan output shape.
func SecurityScan(projectPath string) ([]string, error) {
	var findings []string

	err := filepath.WalkDir(projectPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !scannedExtensions[filepath.Ext(path)] {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		rel, relErr := filepath.Rel(projectPath, path)
		if relErr != nil {
			rel = path
		}

		for lineNum, line := range strings.Split(string(content), "\n") {
			for _, p := range dangerousPatterns {
				if p.re.MatchString(line) {
					findings = append(findings, rel+":"+strconv.Itoa(lineNum+1)+": "+p.desc)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return findings, nil
}
