package runtime

var rustSpec = languageSpec{
	name: "rust",
	ext:  ".rs",
	toolchain: Toolchain{
		Compile: "rustc --edition 2021 -O -o {bin} {src}",
		Run:     "{bin}",
	},
	quote:   rustQuote,
	harness: rustHarness,
}

// The payload is concatenated rather than formatted because Rust format
// strings escape braces with the same pair text/template uses.
const rustHarness = `{{.Code}}

fn main() {
    fn quote(s: &str) -> String {
        let mut out = String::from("\"");
        for c in s.chars() {
            match c {
                '"' => out.push_str("\\\""),
                '\\' => out.push_str("\\\\"),
                '\n' => out.push_str("\\n"),
                '\r' => out.push_str("\\r"),
                '\t' => out.push_str("\\t"),
                c if (c as u32) < 0x20 => out.push_str(&format!("\\u{:04x}", c as u32)),
                c => out.push(c),
            }
        }
        out.push('"');
        out
    }

    let cases: Vec<(&str, &str)> = vec![
{{- range .Cases}}
        ({{.Input}}, {{.Expected}}),
{{- end}}
    ];
    let mut log: Vec<String> = Vec::new();
    let mut passed = 0usize;
    let run = std::panic::catch_unwind(std::panic::AssertUnwindSafe(|| {
        for (i, (given, expected)) in cases.iter().enumerate() {
            let actual = solution(given).to_string();
            let actual = actual.trim();
            let expected = expected.trim();
            if actual == expected {
                passed += 1;
                log.push(format!("Test {}: PASS", i + 1));
            } else {
                log.push(format!("Test {}: FAIL (expected {}, got {})", i + 1, quote(expected), quote(actual)));
            }
        }
    }));
    if let Err(e) = run {
        let msg = if let Some(s) = e.downcast_ref::<&str>() {
            s.to_string()
        } else if let Some(s) = e.downcast_ref::<String>() {
            s.clone()
        } else {
            String::from("panic")
        };
        passed = 0;
        log.push(format!("Error: {}", msg));
    }
    println!();
    println!("{}", {{.Marker}});
    let payload = String::from("{\"passed\":")
        + &passed.to_string()
        + ",\"total\":"
        + &cases.len().to_string()
        + ",\"output\":"
        + &quote(&log.join("\n"))
        + "}";
    println!("{}", payload);
}
`
