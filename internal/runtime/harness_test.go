package runtime

import (
	"strings"
	"testing"
)

func TestHarnessRendering(t *testing.T) {
	r := mustRegistry(t)
	cases := []TestCase{
		{Input: "1 2", ExpectedOutput: "3"},
		{Input: "say \"hi\"\n", ExpectedOutput: `back\slash`},
	}

	tests := []struct {
		lang string
		want []string
	}{
		{"javascript", []string{`["1 2", "3"]`, `["say \"hi\"\n", "back\\slash"]`, "console.log();\n  console.log(\"MARK\")", "solution(tc[0])"}},
		{"python", []string{`("1 2", "3")`, "print()\n    print(\"MARK\")", "__codeexec_harness()", "BaseException"}},
		{"java", []string{"class Harnessjid", `{ "1 2", "3" }`, "System.out.println();\n        System.out.println(\"MARK\")", "Solution.solution(cases[i][0])", "catch (Throwable t)"}},
		{"cpp", []string{`{ "1 2", "3" }`, `"say \"hi\"\n"`, `std::cout << "\n" << "MARK"`, "catch (...)"}},
		{"csharp", []string{"static class Harnessjid", `new[] { "1 2", "3" }`, "Console.WriteLine();\n        System.Console.WriteLine(\"MARK\")", "Solution.solution(cases[i][0])"}},
		{"rust", []string{`("1 2", "3")`, "println!();\n    println!(\"{}\", \"MARK\")", "catch_unwind"}},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			a, err := r.Get(tt.lang)
			if err != nil {
				t.Fatal(err)
			}
			code := "// user code for " + tt.lang + "\n"
			tgt := Target{JobID: "jid", Dir: "/w", Source: a.SourceFileName("jid", code, true), Harnessed: true}
			prog, err := a.Wrap(tgt, code, cases, "MARK")
			if err != nil {
				t.Fatalf("Wrap() = %v", err)
			}
			if len(prog.Companions) != 0 {
				t.Errorf("unexpected companions %+v", prog.Companions)
			}
			src := prog.Source.Content
			if !strings.HasPrefix(src, code) {
				t.Error("harnessed source must start with the unmodified user code")
			}
			for _, w := range tt.want {
				if !strings.Contains(src, w) {
					t.Errorf("harness missing %q\n%s", w, src)
				}
			}
			if strings.Count(src, "MARK") != 1 {
				t.Errorf("marker should appear once, got %d", strings.Count(src, "MARK"))
			}
		})
	}
}

func TestJavaSourceName(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"public class", "public class Solution {\n static int solution(String s) { return 1; }\n}", "Solution.java"},
		{"public final class", "public final class Foo {}", "Foo.java"},
		{"class with main", "class A {}\nclass Runner {\n public static void main(String[] a) {}\n}", "Runner.java"},
		{"no classes", "interface X {}", "Main.java"},
		{"package-private only", "class Solution { static String solution(String s) { return s; } }", "Main.java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := javaSourceName("id", tt.code, false); got != tt.want {
				t.Errorf("javaSourceName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJavaEntryClass(t *testing.T) {
	j, _ := mustRegistry(t).Get("java")
	free := Target{JobID: "x1", Dir: "/w", Source: "Solution.java"}
	if cmd := j.RunCommand(free); strings.Join(cmd.Args, " ") != "-cp /w Solution" {
		t.Errorf("free-mode run = %v", cmd)
	}
	free.Harnessed = true
	if cmd := j.RunCommand(free); strings.Join(cmd.Args, " ") != "-cp /w Harnessx1" {
		t.Errorf("harness-mode run = %v", cmd)
	}
}

func TestQuoting(t *testing.T) {
	tests := []struct {
		name  string
		quote func(string) string
		in    string
		want  string
	}{
		{"json plain", jsonQuote, "abc", `"abc"`},
		{"json escapes", jsonQuote, "a\"b\n", `"a\"b\n"`},
		{"go", goQuote, "a\tb", `"a\tb"`},
		{"cpp control", cppQuote, "a\x01" + "7", `"a\0017"`},
		{"cpp trigraph", cppQuote, "??=", `"\?\?="`},
		{"cpp utf8 passthrough", cppQuote, "héllo", `"héllo"`},
		{"rust control", rustQuote, "a\x00b", `"a\u{0}b"`},
		{"rust unicode", rustQuote, "日本", `"日本"`},
		{"rust escapes", rustQuote, `q"\`, `"q\"\\"`},
	}
	for _, tt := range tests {
		if got := tt.quote(tt.in); got != tt.want {
			t.Errorf("%s: quote(%q) = %s, want %s", tt.name, tt.in, got, tt.want)
		}
	}
}
