package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/paper"
)

func main() {
	cfg := config.Load()

	var examDir string
	flag.StringVar(&examDir, "dir", cfg.ExamDir, "Directory of cached exam papers")
	flag.Parse()

	store := paper.NewStore(examDir, cfg.PaperKey)

	args := flag.Args()
	if len(args) < 2 {
		printUsage()
		return
	}

	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		log.Fatalf("Invalid exam number: %s", args[1])
	}

	switch args[0] {
	case "seal":
		if len(args) < 3 {
			log.Fatal("seal requires a paper file")
		}
		seal(store, n, args[2])
	case "show":
		text, err := store.Load(n)
		if err != nil {
			log.Fatalf("Load failed: %v", err)
		}
		fmt.Print(text)
	case "check":
		text, err := store.Load(n)
		if err != nil {
			log.Fatalf("Load failed: %v", err)
		}
		report(text)
	default:
		printUsage()
	}
}

// seal validates a plaintext paper and writes its XOR'd copy to the store.
func seal(store *paper.Store, n int, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Read failed: %v", err)
	}
	report(string(data))

	if err := store.Save(n, data); err != nil {
		log.Fatalf("Save failed: %v", err)
	}
	fmt.Printf("Sealed paper %d at %s\n", n, store.Path(n))
}

// report parses a paper and prints what a client would load from it.
func report(text string) {
	p, skipped, err := paper.Parse(text)
	for _, rec := range skipped {
		fmt.Printf("Skipped: %s\n", rec)
	}
	if err != nil {
		log.Fatalf("Paper rejected: %v", err)
	}
	fmt.Printf("Paper OK: %d question(s), %d skipped\n", p.Len(), len(skipped))
}

func printUsage() {
	fmt.Println("Usage: seal-paper [-dir path] <command> <exam number> [file]")
	fmt.Println("Commands:")
	fmt.Println("  seal <n> <file>  Validate a plaintext paper and store it sealed as exam n")
	fmt.Println("  show <n>         Print the plaintext of sealed exam n")
	fmt.Println("  check <n>        Validate sealed exam n")
}
