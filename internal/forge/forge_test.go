package forge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"

	"github.com/livinlefevreloca/refresher/internal/forge"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakePull struct {
	Number int
	Head   string
	State  string
}

// fakeGitHub serves the handful of REST endpoints the forge client uses
type fakeGitHub struct {
	mu          sync.Mutex
	pulls       []*fakePull
	created     []map[string]any
	comments    map[int][]string
	authHeaders []string
	failClose   map[int]bool
	nextNumber  int
	pageSize    int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		comments:   map[int][]string{},
		failClose:  map[int]bool{},
		nextNumber: 100,
		pageSize:   2,
	}
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		f.recordAuth(r)
		full := r.PathValue("owner") + "/" + r.PathValue("repo")
		writeJSON(w, http.StatusOK, map[string]any{
			"full_name":      full,
			"default_branch": "master",
			"clone_url":      "https://github.com/" + full + ".git",
		})
	})

	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", func(w http.ResponseWriter, r *http.Request) {
		f.recordAuth(r)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		for _, p := range f.pulls {
			if p.State == "open" && p.Head == body["head"] {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"message": "Validation Failed",
					"errors":  []map[string]any{{"message": "A pull request already exists"}},
				})
				return
			}
		}

		f.nextNumber++
		f.created = append(f.created, body)
		head := fmt.Sprint(body["head"])
		f.pulls = append(f.pulls, &fakePull{Number: f.nextNumber, Head: head, State: "open"})

		writeJSON(w, http.StatusCreated, map[string]any{
			"number":   f.nextNumber,
			"html_url": fmt.Sprintf("https://github.com/%s/%s/pull/%d", r.PathValue("owner"), r.PathValue("repo"), f.nextNumber),
			"head":     map[string]any{"ref": head},
		})
	})

	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var open []*fakePull
		for _, p := range f.pulls {
			if p.State == "open" {
				open = append(open, p)
			}
		}

		page := 1
		if v := r.URL.Query().Get("page"); v != "" {
			page, _ = strconv.Atoi(v)
		}
		start := (page - 1) * f.pageSize
		end := start + f.pageSize
		if start > len(open) {
			start = len(open)
		}
		if end >= len(open) {
			end = len(open)
		} else {
			next := *r.URL
			q := next.Query()
			q.Set("page", strconv.Itoa(page+1))
			next.RawQuery = q.Encode()
			w.Header().Set("Link", fmt.Sprintf(`<http://%s%s>; rel="next"`, r.Host, next.RequestURI()))
		}

		items := []map[string]any{}
		for _, p := range open[start:end] {
			items = append(items, map[string]any{
				"number":   p.Number,
				"state":    p.State,
				"html_url": fmt.Sprintf("https://github.com/pull/%d", p.Number),
				"head":     map[string]any{"ref": p.Head},
			})
		}
		writeJSON(w, http.StatusOK, items)
	})

	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/comments", func(w http.ResponseWriter, r *http.Request) {
		number, _ := strconv.Atoi(r.PathValue("number"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.comments[number] = append(f.comments[number], fmt.Sprint(body["body"]))
		f.mu.Unlock()

		writeJSON(w, http.StatusCreated, map[string]any{"id": 1, "body": body["body"]})
	})

	mux.HandleFunc("PATCH /repos/{owner}/{repo}/pulls/{number}", func(w http.ResponseWriter, r *http.Request) {
		number, _ := strconv.Atoi(r.PathValue("number"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failClose[number] {
			writeJSON(w, http.StatusForbidden, map[string]any{"message": "Resource not accessible by integration"})
			return
		}
		for _, p := range f.pulls {
			if p.Number == number {
				p.State = fmt.Sprint(body["state"])
				writeJSON(w, http.StatusOK, map[string]any{"number": p.Number, "state": p.State})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})

	return mux
}

func (f *fakeGitHub) recordAuth(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
}

func (f *fakeGitHub) state(number int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pulls {
		if p.Number == number {
			return p.State
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ = Describe("GitHub client", func() {
	const repo = "streamlink/streamlink"
	const prefix = "automated/session/http_useragents/update-"

	var (
		ctx    context.Context
		logger *slog.Logger
		fake   *fakeGitHub
		server *httptest.Server
		client *forge.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		fake = newFakeGitHub()
		server = httptest.NewServer(fake.handler())

		var err error
		client, err = forge.New(ctx, "test-token", server.URL, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Context("Repository metadata", func() {
		It("returns the default branch and clone URL", func() {
			r, err := client.Repository(ctx, repo)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.DefaultBranch).To(Equal("master"))
			Expect(r.CloneURL).To(Equal("https://github.com/streamlink/streamlink.git"))
		})

		It("authenticates with the token", func() {
			_, err := client.Repository(ctx, repo)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.authHeaders).To(ContainElement("Bearer test-token"))
		})

		It("rejects malformed repository names", func() {
			_, err := client.Repository(ctx, "streamlink")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("owner/repo"))
		})
	})

	Context("Pull request creation", func() {
		It("opens a pull request with the given metadata", func() {
			pr, err := client.CreatePullRequest(ctx, repo, forge.NewPullRequest{
				Title: "session.http_useragents: update useragents",
				Body:  "Automated pull request",
				Head:  prefix + "1700000000",
				Base:  "master",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(pr.Number).To(Equal(101))
			Expect(pr.Head).To(Equal(prefix + "1700000000"))
			Expect(pr.URL).To(HaveSuffix("/pull/101"))

			Expect(fake.created).To(HaveLen(1))
			Expect(fake.created[0]).To(HaveKeyWithValue("title", "session.http_useragents: update useragents"))
			Expect(fake.created[0]).To(HaveKeyWithValue("body", "Automated pull request"))
			Expect(fake.created[0]).To(HaveKeyWithValue("base", "master"))
		})

		It("returns an error when the forge rejects the pull request", func() {
			pr := forge.NewPullRequest{Title: "t", Head: prefix + "1", Base: "master"}
			_, err := client.CreatePullRequest(ctx, repo, pr)
			Expect(err).NotTo(HaveOccurred())

			_, err = client.CreatePullRequest(ctx, repo, pr)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Superseded pull requests", func() {
		var numbers []int

		BeforeEach(func() {
			numbers = nil
			for _, head := range []string{prefix + "1", "feature/unrelated", prefix + "2", prefix + "3"} {
				pr, err := client.CreatePullRequest(ctx, repo, forge.NewPullRequest{Title: "t", Head: head, Base: "master"})
				Expect(err).NotTo(HaveOccurred())
				numbers = append(numbers, pr.Number)
			}
		})

		It("lists open automated pull requests across pages", func() {
			open, err := client.OpenPullRequests(ctx, repo, prefix)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(HaveLen(3))
		})

		It("closes all but the newest with a comment", func() {
			newest := numbers[3]
			closed, err := client.CloseSuperseded(ctx, repo, prefix, newest)
			Expect(err).NotTo(HaveOccurred())
			Expect(closed).To(ConsistOf(numbers[0], numbers[2]))

			Expect(fake.state(numbers[0])).To(Equal("closed"))
			Expect(fake.state(numbers[1])).To(Equal("open"))
			Expect(fake.state(numbers[2])).To(Equal("closed"))
			Expect(fake.state(newest)).To(Equal("open"))
			Expect(fake.comments[numbers[0]]).To(ConsistOf(fmt.Sprintf("Superseded by #%d", newest)))
		})

		It("keeps going when one pull request cannot be closed", func() {
			fake.failClose[numbers[0]] = true

			closed, err := client.CloseSuperseded(ctx, repo, prefix, numbers[3])
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(fmt.Sprintf("#%d", numbers[0])))
			Expect(closed).To(ConsistOf(numbers[2]))
		})
	})
})
