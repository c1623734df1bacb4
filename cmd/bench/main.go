package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/tilth"
	"github.com/aretw0/tilth/pkg/core"
)

func main() {
	count := flag.Int("count", 1000, "Number of posts to generate")
	edits := flag.Int("edits", 50, "Number of posts to edit and commit")
	git := flag.Bool("git", false, "Benchmark the Git store instead of the filesystem store")
	keep := flag.Bool("keep", false, "Keep the benchmark root after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "tilth_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	project := tilth.SampleProject()
	project.Drafts.Kind = "memory"
	if *git {
		project.Storage.Kind = "git"
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	root, err := tilth.Init(benchDir, project, tilth.WithLogger(logger))
	if err != nil {
		panic(err)
	}

	fmt.Printf("Generating %d posts in %s...\n", *count, root)
	startGen := time.Now()
	postsDir := filepath.Join(root, "content", "posts")
	if err := os.MkdirAll(postsDir, 0755); err != nil {
		panic(err)
	}
	for i := 0; i < *count; i++ {
		content := fmt.Sprintf("---\ntitle: Post %d\ndate: %s\ntags: [news]\n---\n# Post %d\nThis is a benchmark post.\n", i, time.Now().Format("2006-01-02"), i)
		if err := os.WriteFile(filepath.Join(postsDir, fmt.Sprintf("post-%d.md", i)), []byte(content), 0644); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Generation took: %v\n", time.Since(startGen))

	ctx := context.Background()
	if *git {
		// Generated files are committed in one go so the Git store can see them.
		if err := commitGenerated(ctx, root, project, logger); err != nil {
			panic(err)
		}
	}

	// A cold run fills the tree hash cache; the warm run reopens the workspace the way
	// a second CLI invocation would.
	cold := listAndLoad(ctx, root, project, logger)
	warm := listAndLoad(ctx, root, project, logger)

	ws, err := tilth.New(root, tilth.WithProject(project), tilth.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	defer ws.Close()

	startEdit := time.Now()
	for i := 0; i < *edits && i < *count; i++ {
		sess, err := ws.Service.Open(ctx, core.CollectionEntry("posts", fmt.Sprintf("post-%d", i)))
		if err != nil {
			panic(err)
		}
		if err := sess.Set(ctx, "title", fmt.Sprintf("Edited post %d", i)); err != nil {
			panic(err)
		}
		result, err := sess.Update(ctx, core.UpdateOptions{})
		if err != nil {
			panic(err)
		}
		if result.Status != core.StatusIdle {
			panic(fmt.Sprintf("commit of post-%d: %s", i, result))
		}
		sess.Close()
	}
	editDuration := time.Since(startEdit)

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d posts, store %s):\n", *count, project.Storage.Kind)
	fmt.Printf("  List+Load cold: %v\n", cold)
	fmt.Printf("  List+Load warm: %v\n", warm)
	fmt.Printf("  Edit+Commit:    %v (%d entries)\n", editDuration, min(*edits, *count))
	fmt.Printf("--------------------------------------------------\n")
}

func listAndLoad(ctx context.Context, root string, project *tilth.Project, logger *slog.Logger) time.Duration {
	start := time.Now()
	ws, err := tilth.New(root, tilth.WithProject(project), tilth.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	defer ws.Close()

	slugs, err := ws.Service.List(ctx, "posts")
	if err != nil {
		panic(err)
	}
	for _, slug := range slugs {
		if _, _, err := ws.Service.Load(ctx, core.CollectionEntry("posts", slug)); err != nil {
			panic(err)
		}
	}
	d := time.Since(start)
	fmt.Printf("Loaded %d posts in %v\n", len(slugs), d)
	return d
}

func commitGenerated(ctx context.Context, root string, project *tilth.Project, logger *slog.Logger) error {
	ws, err := tilth.New(root, tilth.WithProject(project), tilth.WithLogger(logger))
	if err != nil {
		return err
	}
	defer ws.Close()

	loaded, err := ws.Store.Load(ctx, project.Storage.Branch, "content/posts")
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	entries, err := os.ReadDir(filepath.Join(root, "content", "posts"))
	if err != nil {
		return err
	}
	req := core.CommitRequest{Branch: project.Storage.Branch, BaseSHA: loaded.BaseSHA, Message: "bench: generate posts"}
	for _, e := range entries {
		p := filepath.ToSlash(filepath.Join("content", "posts", e.Name()))
		data, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			return err
		}
		req.Additions = append(req.Additions, core.File{Path: p, Contents: data})
	}
	_, err = ws.Store.Commit(ctx, req)
	return err
}
