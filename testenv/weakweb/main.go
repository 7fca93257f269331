// Intentionally misconfigured web server for testing warden's web attack
// vectors. It leaks its version, sends no security headers and lists
// directories. DO NOT deploy this in any production environment.
package main

import (
	"fmt"
	"html"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
)

// files is the fake content of the listed directories.
var files = map[string][]string{
	"/uploads/": {"avatar.png", "invoice-2024.pdf", "shell.php.bak"},
	"/backup/":  {"db.sql.gz", "site.tar.gz"},
}

func main() {
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/", rootHandler)
	for dir := range files {
		mux.HandleFunc(dir, indexHandler)
	}

	log.Printf("weakweb listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, leakVersion(mux)))
}

// leakVersion adds the headers a default, unhardened Apache/PHP stack
// would send.
func leakVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Apache/2.4.41 (Ubuntu)")
		w.Header().Set("X-Powered-By", "PHP/7.4.3")
		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><head><title>It works!</title></head><body><h1>It works!</h1></body></html>")
}

// indexHandler renders an autoindex page in Apache's format.
func indexHandler(w http.ResponseWriter, r *http.Request) {
	names, ok := files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var b strings.Builder
	path := html.EscapeString(r.URL.Path)
	fmt.Fprintf(&b, "<html><head><title>Index of %s</title></head><body><h1>Index of %s</h1><ul>", path, path)
	b.WriteString(`<li><a href="../">Parent Directory</a></li>`)
	for _, n := range sorted {
		n = html.EscapeString(n)
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, n, n)
	}
	b.WriteString("</ul></body></html>")

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, b.String())
}
