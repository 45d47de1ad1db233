package runtime

var csharpSpec = languageSpec{
	name:   "csharp",
	ext:    ".cs",
	binExt: ".exe",
	toolchain: Toolchain{
		Compile: "mcs -out:{bin} {src}",
		Run:     "mono {bin}",
	},
	quote:   jsonQuote,
	harness: csharpHarness,
}

const csharpHarness = `{{.Code}}

static class Harness{{.JobID}}
{
    static string Quote(string s)
    {
        var b = new System.Text.StringBuilder("\"");
        foreach (var c in s)
        {
            switch (c)
            {
                case '"': b.Append("\\\""); break;
                case '\\': b.Append("\\\\"); break;
                case '\n': b.Append("\\n"); break;
                case '\r': b.Append("\\r"); break;
                case '\t': b.Append("\\t"); break;
                default:
                    if (c < 0x20) b.Append("\\u").Append(((int)c).ToString("x4"));
                    else b.Append(c);
                    break;
            }
        }
        return b.Append('"').ToString();
    }

    static void Main()
    {
        var cases = new string[][]
        {
{{- range .Cases}}
            new[] { {{.Input}}, {{.Expected}} },
{{- end}}
        };
        var log = new System.Collections.Generic.List<string>();
        var passed = 0;
        try
        {
            for (var i = 0; i < cases.Length; i++)
            {
                var actual = (System.Convert.ToString(Solution.solution(cases[i][0]), System.Globalization.CultureInfo.InvariantCulture) ?? "").Trim();
                var expected = cases[i][1].Trim();
                if (actual == expected)
                {
                    passed++;
                    log.Add("Test " + (i + 1) + ": PASS");
                }
                else
                {
                    log.Add("Test " + (i + 1) + ": FAIL (expected " + Quote(expected) + ", got " + Quote(actual) + ")");
                }
            }
        }
        catch (System.Exception e)
        {
            passed = 0;
            log.Add("Error: " + e.Message);
        }
        System.Console.WriteLine();
        System.Console.WriteLine({{.Marker}});
        System.Console.WriteLine("{\"passed\":" + passed + ",\"total\":" + cases.Length + ",\"output\":" + Quote(string.Join("\n", log)) + "}");
    }
}
`
