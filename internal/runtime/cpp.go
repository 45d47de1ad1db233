package runtime

var cppSpec = languageSpec{
	name: "cpp",
	ext:  ".cpp",
	toolchain: Toolchain{
		Compile: "g++ -std=c++17 -O2 -o {bin} {src}",
		Run:     "{bin}",
	},
	quote:   cppQuote,
	harness: cppHarness,
}

const cppHarness = `{{.Code}}

#include <cstdio>
#include <exception>
#include <iostream>
#include <sstream>
#include <string>
#include <utility>
#include <vector>

namespace codeexec_harness {

inline std::string trim(const std::string& s) {
    const char* ws = " \t\n\r\f\v";
    std::string::size_type b = s.find_first_not_of(ws);
    if (b == std::string::npos) return "";
    std::string::size_type e = s.find_last_not_of(ws);
    return s.substr(b, e - b + 1);
}

inline std::string quote(const std::string& s) {
    std::string out = "\"";
    for (unsigned char c : s) {
        switch (c) {
        case '"': out += "\\\""; break;
        case '\\': out += "\\\\"; break;
        case '\n': out += "\\n"; break;
        case '\r': out += "\\r"; break;
        case '\t': out += "\\t"; break;
        default:
            if (c < 0x20) {
                char buf[8];
                std::snprintf(buf, sizeof buf, "\\u%04x", static_cast<unsigned>(c));
                out += buf;
            } else {
                out += static_cast<char>(c);
            }
        }
    }
    return out + "\"";
}

template <typename T>
std::string stringify(const T& value) {
    std::ostringstream os;
    os << std::boolalpha << value;
    return os.str();
}

}  // namespace codeexec_harness

int main() {
    const std::vector<std::pair<std::string, std::string>> cases = {
{{- range .Cases}}
        { {{.Input}}, {{.Expected}} },
{{- end}}
    };
    std::vector<std::string> log;
    int passed = 0;
    try {
        for (std::size_t i = 0; i < cases.size(); ++i) {
            std::string actual = codeexec_harness::trim(codeexec_harness::stringify(solution(cases[i].first)));
            std::string expected = codeexec_harness::trim(cases[i].second);
            std::string n = std::to_string(i + 1);
            if (actual == expected) {
                ++passed;
                log.push_back("Test " + n + ": PASS");
            } else {
                log.push_back("Test " + n + ": FAIL (expected " + codeexec_harness::quote(expected) +
                              ", got " + codeexec_harness::quote(actual) + ")");
            }
        }
    } catch (const std::exception& e) {
        passed = 0;
        log.push_back(std::string("Error: ") + e.what());
    } catch (...) {
        passed = 0;
        log.push_back("Error: unknown exception");
    }
    std::string joined;
    for (std::size_t i = 0; i < log.size(); ++i) {
        if (i > 0) joined += "\n";
        joined += log[i];
    }
    std::cout << "\n" << {{.Marker}} << "\n";
    std::cout << "{\"passed\":" << passed << ",\"total\":" << cases.size()
              << ",\"output\":" << codeexec_harness::quote(joined) << "}" << std::endl;
    return 0;
}
`
