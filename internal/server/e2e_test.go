package server_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/livepreview/preview/internal/config"
	"github.com/livepreview/preview/internal/livereload"
	"github.com/livepreview/preview/internal/server"
)

const assetPrefix = "e2e"

// instance is a preview server running on a loopback port.
type instance struct {
	srv     *server.Server
	baseURL string
	cancel  context.CancelFunc
	done    chan error
}

func startPreview(origin string) *instance {
	res := config.Resolve(origin)

	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.BasePath = res.BasePath
	cfg.ServeFileOnRoot = res.ServeFileOnRoot
	cfg.IsDirectoryInit = res.IsDirectoryInit
	cfg.OriginalPath = origin
	cfg.InvocationDir = res.BasePath
	cfg.AssetPrefix = assetPrefix

	b, err := livereload.NewBroadcaster(livereload.WithDebounce(20 * time.Millisecond))
	Expect(err).NotTo(HaveOccurred())

	srv, err := server.New(cfg, server.WithBroadcaster(b))
	Expect(err).NotTo(HaveOccurred())

	wcfg := livereload.WatcherConfig{Root: res.BasePath}
	if res.ServeFileOnRoot {
		wcfg.File = origin
	}
	w, err := livereload.NewWatcher(wcfg, b)
	Expect(err).NotTo(HaveOccurred())

	ln, err := srv.Listen()
	Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		srv:     srv,
		baseURL: "http://" + ln.Addr().String(),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() {
		inst.done <- srv.Run(ctx, ln, w.Run)
		b.Close()
	}()
	return inst
}

func (i *instance) stop() {
	i.cancel()
	Eventually(i.done, 5*time.Second).Should(Receive(BeNil()))
}

func (i *instance) get(path string) (*http.Response, string) {
	resp, err := http.Get(i.baseURL + path)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, string(body)
}

// streamLines reads an event stream line by line into a channel.
func streamLines(r io.Reader) <-chan string {
	lines := make(chan string, 16)
	go func() {
		defer GinkgoRecover()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	return lines
}

func tempRoot() string {
	dir, err := os.MkdirTemp("", "preview-e2e-*")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)

	// Watch events carry resolved paths.
	dir, err = filepath.EvalSymlinks(dir)
	Expect(err).NotTo(HaveOccurred())
	return dir
}

func writeFile(path, content string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
}

var _ = Describe("Preview server", func() {
	Describe("serving a directory", func() {
		var (
			root string
			inst *instance
		)

		BeforeEach(func() {
			root = tempRoot()
			writeFile(filepath.Join(root, "test.md"), "# Test\n")
			writeFile(filepath.Join(root, "b.txt"), "plain text\n")
			writeFile(filepath.Join(root, "A.txt"), "upper\n")
			writeFile(filepath.Join(root, "docs", "guide.md"), "# Guide\n")
			writeFile(filepath.Join(root, "assets", "x.txt"), "x")
			inst = startPreview(root)
		})

		AfterEach(func() {
			inst.stop()
		})

		It("lists the root directory", func() {
			resp, body := inst.get("/")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/html"))
			Expect(body).To(ContainSubstring("Directory:"))
			Expect(body).To(ContainSubstring("test.md"))
		})

		It("sorts files and directories separately", func() {
			_, body := inst.get("/")

			files := strings.Index(body, "<h2>Files</h2>")
			dirs := strings.Index(body, "<h2>Directories</h2>")
			Expect(files).To(BeNumerically(">=", 0))
			Expect(dirs).To(BeNumerically(">", files))

			Expect(strings.Index(body, ">A.txt<")).To(BeNumerically("<", strings.Index(body, ">b.txt<")))
			Expect(strings.Index(body, ">b.txt<")).To(BeNumerically("<", strings.Index(body, ">test.md<")))
			Expect(strings.Index(body, ">assets<")).To(BeNumerically("<", strings.Index(body, ">docs<")))
			Expect(strings.Index(body, ">test.md<")).To(BeNumerically("<", dirs))
		})

		It("renders markdown files below the root", func() {
			resp, body := inst.get("/docs/guide.md")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("<h1>Guide</h1>"))
			Expect(body).To(ContainSubstring(`<a href="/docs">docs</a>`))
		})

		It("serves raw bytes as plain text", func() {
			resp, body := inst.get("/raw/b.txt")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/plain; charset=utf-8"))
			Expect(body).To(Equal("plain text\n"))
		})

		It("serves the four stylesheets and rejects unknown ones", func() {
			for _, name := range []string{"bamboo.css", "hjs.css", "hjs-dark.css", "directory.css"} {
				resp, _ := inst.get("/" + assetPrefix + "-" + name)
				Expect(resp.StatusCode).To(Equal(http.StatusOK), name)
				Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/css"), name)
			}

			resp, _ := inst.get("/" + assetPrefix + "-other.css")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("answers 404 with a plain-text body for missing paths", func() {
			resp, body := inst.get("/nope/missing.md")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(body).To(HavePrefix("Not found."))
		})

		It("pushes refresh over SSE when a file changes", func() {
			resp, err := http.Get(inst.baseURL + "/events")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			b := inst.srv.Broadcaster()
			Eventually(b.Count).Should(Equal(1))

			lines := streamLines(resp.Body)
			writeFile(filepath.Join(root, "test.md"), "# Changed\n")

			Eventually(lines, 3*time.Second).Should(Receive(Equal("data: refresh")))

			resp.Body.Close()
			Eventually(b.Count, 2*time.Second).Should(BeZero())

			// Changes after the disconnect reach nobody.
			writeFile(filepath.Join(root, "test.md"), "# Again\n")
			Consistently(b.Count, 200*time.Millisecond).Should(BeZero())
		})

		It("pushes refresh over WebSocket when a file changes", func() {
			wsURL := "ws" + strings.TrimPrefix(inst.baseURL, "http") + "/events"
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Eventually(inst.srv.Broadcaster().Count).Should(Equal(1))
			writeFile(filepath.Join(root, "docs", "guide.md"), "# Guide 2\n")

			Expect(conn.SetReadDeadline(time.Now().Add(3 * time.Second))).To(Succeed())
			_, msg, err := conn.ReadMessage()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(msg)).To(Equal(livereload.RefreshMessage))
		})

		It("refreshes for files in directories created after start", func() {
			resp, err := http.Get(inst.baseURL + "/events")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Eventually(inst.srv.Broadcaster().Count).Should(Equal(1))
			lines := streamLines(resp.Body)

			Expect(os.Mkdir(filepath.Join(root, "fresh"), 0o755)).To(Succeed())
			Eventually(lines, 3*time.Second).Should(Receive(Equal("data: refresh")))
		})
	})

	Describe("serving a single file", func() {
		var inst *instance

		BeforeEach(func() {
			root := tempRoot()
			file := filepath.Join(root, "hello.md")
			writeFile(file, "# Hello World\n")
			inst = startPreview(file)
		})

		AfterEach(func() {
			inst.stop()
		})

		It("renders the file on /", func() {
			resp, body := inst.get("/")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("<h1>Hello World</h1>"))
			Expect(body).NotTo(ContainSubstring("-directory.css"))
		})

		It("still serves the raw file", func() {
			_, body := inst.get("/raw/hello.md")
			Expect(body).To(Equal("# Hello World\n"))
		})
	})

	Describe("binding", func() {
		It("fails when the port is taken", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer ln.Close()

			cfg := server.DefaultConfig()
			cfg.Host = "127.0.0.1"
			cfg.Port = ln.Addr().(*net.TCPAddr).Port
			srv, err := server.New(cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = srv.Listen()
			Expect(err).To(HaveOccurred())
		})
	})
})
