package runtime

import (
	"path/filepath"
	"regexp"
	"strings"
)

var javaSpec = languageSpec{
	name: "java",
	ext:  ".java",
	toolchain: Toolchain{
		Compile: "javac -encoding UTF-8 -d {dir} {src}",
		Run:     "java -cp {dir} {class}",
	},
	quote:      jsonQuote,
	harness:    javaHarness,
	sourceName: javaSourceName,
	entryClass: javaEntryClass,
	artifacts:  javaArtifacts,
}

var (
	javaPublicClass = regexp.MustCompile(`\bpublic\s+(?:(?:final|abstract|static)\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	javaClassDecl   = regexp.MustCompile(`\bclass\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	javaMainMethod  = regexp.MustCompile(`\bstatic\s+void\s+main\s*\(`)
)

// javaSourceName follows javac's rule that a public class lives in a file of
// the same name. The job directory keeps concurrent jobs apart.
func javaSourceName(_, code string, _ bool) string {
	if m := javaPublicClass.FindStringSubmatch(code); m != nil {
		return m[1] + ".java"
	}
	if loc := javaMainMethod.FindStringIndex(code); loc != nil {
		decls := javaClassDecl.FindAllStringSubmatch(code[:loc[0]], -1)
		if len(decls) > 0 {
			return decls[len(decls)-1][1] + ".java"
		}
	}
	return "Main.java"
}

func javaEntryClass(t Target) string {
	if t.Harnessed {
		return "Harness" + t.JobID
	}
	return strings.TrimSuffix(t.Source, ".java")
}

func javaArtifacts(t Target) []string {
	classes, _ := filepath.Glob(filepath.Join(t.Dir, "*.class"))
	return classes
}

// Fully qualified names keep the driver independent of the user's imports.
const javaHarness = `{{.Code}}

class Harness{{.JobID}} {
    private static String quote(String s) {
        StringBuilder b = new StringBuilder("\"");
        for (int i = 0; i < s.length(); i++) {
            char c = s.charAt(i);
            switch (c) {
                case '"': b.append("\\\""); break;
                case '\\': b.append("\\\\"); break;
                case '\n': b.append("\\n"); break;
                case '\r': b.append("\\r"); break;
                case '\t': b.append("\\t"); break;
                default:
                    if (c < 0x20) {
                        b.append(String.format("\\u%04x", (int) c));
                    } else {
                        b.append(c);
                    }
            }
        }
        return b.append('"').toString();
    }

    public static void main(String[] args) {
        String[][] cases = {
{{- range .Cases}}
            { {{.Input}}, {{.Expected}} },
{{- end}}
        };
        java.util.List<String> log = new java.util.ArrayList<>();
        int passed = 0;
        try {
            for (int i = 0; i < cases.length; i++) {
                String actual = String.valueOf(Solution.solution(cases[i][0])).trim();
                String expected = cases[i][1].trim();
                if (actual.equals(expected)) {
                    passed++;
                    log.add("Test " + (i + 1) + ": PASS");
                } else {
                    log.add("Test " + (i + 1) + ": FAIL (expected " + quote(expected) + ", got " + quote(actual) + ")");
                }
            }
        } catch (Throwable t) {
            passed = 0;
            log.add("Error: " + t);
        }
        System.out.println();
        System.out.println({{.Marker}});
        System.out.println("{\"passed\":" + passed + ",\"total\":" + cases.length + ",\"output\":" + quote(String.join("\n", log)) + "}");
        System.out.flush();
    }
}
`
