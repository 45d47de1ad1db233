package runtime

var pythonSpec = languageSpec{
	name: "python",
	ext:  ".py",
	// -B keeps the workspace free of .pyc files.
	toolchain: Toolchain{Run: "python3 -u -B {src}"},
	quote:     jsonQuote,
	harness:   pythonHarness,
}

// The entry point is called without arguments when it declares none.
const pythonHarness = `{{.Code}}


def __codeexec_harness():
    import inspect as _inspect
    import json as _json

    cases = [
{{- range .Cases}}
        ({{.Input}}, {{.Expected}}),
{{- end}}
    ]
    log = []
    passed = 0
    try:
        try:
            arity = len(_inspect.signature(solution).parameters)
        except (TypeError, ValueError):
            arity = 1
        for i, (given, expected) in enumerate(cases, 1):
            result = solution(given) if arity else solution()
            actual = str(result).strip()
            want = str(expected).strip()
            if actual == want:
                passed += 1
                log.append("Test %d: PASS" % i)
            else:
                log.append("Test %d: FAIL (expected %s, got %s)" % (i, _json.dumps(want), _json.dumps(actual)))
    except BaseException as exc:
        passed = 0
        log.append("Error: %s" % (exc,))
    print()
    print({{.Marker}})
    print(_json.dumps({"passed": passed, "total": len(cases), "output": "\n".join(log)}), flush=True)


__codeexec_harness()
`
