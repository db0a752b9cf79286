package main

// bio-assemble runs the post-alignment assembly core: given a reference,
// a bin manifest, and the per-bin fragment data the match-selector has
// already written, it sorts/dedups each bin, gap-realigns and
// semialigned-clips the survivors, and serializes them into a single
// coordinate-sorted, indexed BAM file.
//
// Usage: bio-assemble -reference ref.fa -reference-index ref.fa.fai
//          -manifest bins.json -out out.bam -stats stats.xml

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"sort"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bioasm/assemble/bamio"
	"github.com/grailbio/bioasm/assemble/build"
	gbam "github.com/grailbio/bioasm/encoding/bam"
	"github.com/grailbio/bioasm/encoding/fasta"
)

var (
	referenceFlag      = flag.String("reference", "", "Path to the reference FASTA")
	referenceIndexFlag = flag.String("reference-index", "", "Path to the reference .fai index")
	manifestFlag       = flag.String("manifest", "", "Path to the bin manifest JSON file")
	outFlag            = flag.String("out", "", "Output BAM path; a .bai index is written alongside it")
	statsFlag          = flag.String("stats", "", "Output path for the per-tile/per-bin stats XML (optional)")

	realignGapsFlag              = flag.String("realign-gaps", "none", "Gap realignment scope: none, sample, project, all")
	realignVigorouslyFlag        = flag.Bool("realign-vigorously", false, "Accept a lower-cost realignment without requiring a 20% drop in mismatch rate")
	realignDodgyFlag             = flag.Bool("realign-dodgy", false, "Also realign reads with a dodgy alignment score")
	realignedGapsPerFragmentFlag = flag.Int("realigned-gaps-per-fragment", 2, "Max gaps combined per fragment during realignment")

	clipSemialignedFlag = flag.Bool("clip-semialigned", true, "Soft-clip trailing mismatches at read ends after realignment")

	keepDuplicatesFlag       = flag.Bool("keep-duplicates", false, "Mark duplicates in the BAM FLAG field instead of dropping them")
	markDuplicatesFlag       = flag.Bool("mark-duplicates", true, "Drop PCR/optical duplicates (mutually exclusive with keep-duplicates)")
	singleLibrarySamplesFlag = flag.Bool("single-library-samples", false, "Treat every barcode in a sample as one library")

	dodgyAlignmentScoreFlag = flag.String("dodgy-alignment-score", "Unknown", "Synthetic score for dodgy alignments: Unaligned, Unknown, or an integer")

	bamGzipLevelFlag                 = flag.Int("bam-gzip-level", 6, "BGZF compression level, 0-9")
	expectedBGZFCompressionRatioFlag = flag.Float64("expected-bgzf-compression-ratio", 3.0, "Expected BGZF compression ratio, used to size output buffers")

	keepUnalignedFlag         = flag.Bool("keep-unaligned", true, "Include the catch-all unaligned bin in the output")
	putUnalignedInTheBackFlag = flag.Bool("put-unaligned-in-the-back", true, "Process the unaligned bin last regardless of manifest order")

	binRegexFlag = flag.String("bin-regex", "all", `Which bins to process: "all", "skip-empty", or a regex over bin data-file names`)

	includeTagsFlag = flag.String("include-tags", "AS,BC,NM,RG", "Comma-separated subset of {AS,BC,NM,OC,RG,SM,ZX,ZY} to emit")

	pessimisticMapQFlag = flag.Bool("pessimistic-mapq", false, "Cap reported MAPQ at 3 for anything short of the maximum score")

	loadParallelismFlag    = flag.Int("load-parallelism", 8, "Number of bins loaded from disk concurrently")
	computeParallelismFlag = flag.Int("compute-parallelism", 8, "Number of bins dedup/realign/clip-ed concurrently")
	numaPinFlag            = flag.Bool("numa-pin", false, "Pin the main OS thread to NUMA node 0 at startup; per-job goroutines are not pinned individually")

	programArgsFlag = flag.String("program-args", "", "Recorded verbatim in the BAM header's @PG CL field")
)

func buildOpts() build.Opts {
	realignGaps, err := build.ParseGapRealignMode(*realignGapsFlag)
	if err != nil {
		log.Panicf("%v", err)
	}
	dodgyScore, err := build.ParseDodgyAlignmentScore(*dodgyAlignmentScoreFlag)
	if err != nil {
		log.Panicf("%v", err)
	}
	o := build.Opts{
		RealignGaps:                  realignGaps,
		RealignVigorously:            *realignVigorouslyFlag,
		RealignDodgy:                 *realignDodgyFlag,
		RealignedGapsPerFragment:     *realignedGapsPerFragmentFlag,
		ClipSemialigned:              *clipSemialignedFlag,
		KeepDuplicates:               *keepDuplicatesFlag,
		MarkDuplicates:               *markDuplicatesFlag,
		SingleLibrarySamples:         *singleLibrarySamplesFlag,
		DodgyAlignmentScore:          dodgyScore,
		BAMGzipLevel:                 *bamGzipLevelFlag,
		ExpectedBGZFCompressionRatio: *expectedBGZFCompressionRatioFlag,
		KeepUnaligned:                *keepUnalignedFlag,
		PutUnalignedInTheBack:        *putUnalignedInTheBackFlag,
		BinRegex:                     *binRegexFlag,
		IncludeTags:                  *includeTagsFlag,
		PessimisticMapQ:              *pessimisticMapQFlag,
		LoadParallelism:              *loadParallelismFlag,
		ComputeParallelism:           *computeParallelismFlag,
		NUMAPin:                      *numaPinFlag,
	}
	if err := o.Validate(); err != nil {
		log.Panicf("%v", err)
	}
	return o
}

// tagSetFromFlag turns the comma-separated include-tags flag into a
// bamio.TagSet (spec.md §6 "include-tags").
func tagSetFromFlag(s string) bamio.TagSet {
	var t bamio.TagSet
	for _, tag := range splitCSV(s) {
		switch tag {
		case "AS":
			t.AS = true
		case "BC":
			t.BC = true
		case "NM":
			t.NM = true
		case "OC":
			t.OC = true
		case "RG":
			t.RG = true
		case "SM":
			t.SM = true
		case "ZX":
			t.ZX = true
		case "ZY":
			t.ZY = true
		}
	}
	return t
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// loadReference opens the reference FASTA, indexed if a .fai was given,
// the way fusion/gene_db.go's fasta.New/fasta.NewIndexed are used.
func loadReference(ctx context.Context) (fasta.Fasta, map[string]uint64, error) {
	f, err := file.Open(ctx, *referenceFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("opening reference %s: %w", *referenceFlag, err)
	}
	if *referenceIndexFlag == "" {
		fa, err := fasta.New(f.Reader(ctx))
		if err != nil {
			return nil, nil, err
		}
		lengths := map[string]uint64{}
		for _, name := range fa.SeqNames() {
			n, err := fa.Len(name)
			if err != nil {
				return nil, nil, err
			}
			lengths[name] = n
		}
		return fa, lengths, nil
	}
	idxFile, err := file.Open(ctx, *referenceIndexFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("opening reference index %s: %w", *referenceIndexFlag, err)
	}
	lengths, err := fasta.FaiToReferenceLengths(idxFile.Reader(ctx))
	if err != nil {
		return nil, nil, err
	}
	fa, err := fasta.NewIndexed(f.Reader(ctx), idxFile.Reader(ctx))
	if err != nil {
		return nil, nil, err
	}
	return fa, lengths, nil
}

// filterBins applies bin-regex and keep-unaligned (spec.md §6).
func filterBins(entries []build.BinManifestEntry, opts build.Opts) []build.BinManifestEntry {
	var nameRe *regexp.Regexp
	switch opts.BinRegex {
	case "all", "skip-empty", "":
	default:
		var err error
		nameRe, err = regexp.Compile(opts.BinRegex)
		if err != nil {
			log.Panicf("build: invalid bin-regex %q: %v", opts.BinRegex, err)
		}
	}

	var out []build.BinManifestEntry
	for _, e := range entries {
		if e.Contig == "" && !opts.KeepUnaligned {
			continue
		}
		if opts.BinRegex == "skip-empty" && e.Length == 0 {
			continue
		}
		if nameRe != nil && !nameRe.MatchString(e.DataPath) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// buildJobs assigns dense, strictly increasing Job.Index values, putting
// the unaligned bin last when put-unaligned-in-the-back is set (spec.md
// §6 "put-unaligned-in-the-back").
func buildJobs(refs []*build.BinRef, opts build.Opts) []build.Job {
	if opts.PutUnalignedInTheBack {
		var aligned, unaligned []*build.BinRef
		for _, r := range refs {
			if r.Meta.IsUnaligned() {
				unaligned = append(unaligned, r)
			} else {
				aligned = append(aligned, r)
			}
		}
		refs = append(aligned, unaligned...)
	}
	jobs := make([]build.Job, len(refs))
	for i, r := range refs {
		jobs[i] = build.Job{Index: i, Bin: r}
	}
	return jobs
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString("Usage: bio-assemble -reference ref.fa -manifest bins.json -out out.bam [flags]\n")
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	if *referenceFlag == "" || *manifestFlag == "" || *outFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	opts := buildOpts()
	ctx := vcontext.Background()

	reference, contigLengths, err := loadReference(ctx)
	if err != nil {
		log.Panicf("%v", err)
	}

	entries, err := build.LoadManifest(*manifestFlag)
	if err != nil {
		log.Panicf("%v", err)
	}
	entries = filterBins(entries, opts)

	names := make([]string, 0, len(contigLengths))
	for name := range contigLengths {
		names = append(names, name)
	}
	sort.Strings(names)
	contigs := make([]bamio.Contig, len(names))
	for i, name := range names {
		contigs[i] = bamio.Contig{Name: name, Length: int(contigLengths[name])}
	}

	header, err := bamio.BuildHeader(bamio.HeaderOpts{
		Contigs:     contigs,
		ProgramName: "bio-assemble",
		ProgramArgs: *programArgsFlag,
	})
	if err != nil {
		log.Panicf("building BAM header: %v", err)
	}

	binRefs, err := build.ResolveBinRefs(entries, header)
	if err != nil {
		log.Panicf("%v", err)
	}
	jobs := buildJobs(binRefs, opts)

	outFile, err := file.Create(ctx, *outFlag)
	if err != nil {
		log.Panicf("creating %s: %v", *outFlag, err)
	}
	defer func() {
		if err := outFile.Close(ctx); err != nil {
			log.Printf("closing %s: %v", *outFlag, err)
		}
	}()

	const shardQueueSize = 64
	writer, err := bamio.NewWriter(outFile.Writer(ctx), opts.BAMGzipLevel, shardQueueSize, header)
	if err != nil {
		log.Panicf("opening BAM writer: %v", err)
	}

	stats := build.NewTileStats()
	processor := &build.Processor{
		Opts:      opts,
		Writer:    writer,
		Reference: reference,
		Tags:      tagSetFromFlag(opts.IncludeTags),
		Stats:     stats,
	}

	if opts.NUMAPin {
		// This process has a single NUMA node's worth of CPUs available
		// to it under the container/cgroup this binary typically runs
		// in, so node 0 spans every CPU runtime.NumCPU() reports.
		runtime.LockOSThread()
		build.PinToNUMANode(0, 1, runtime.NumCPU())
	}

	orchestrator := build.NewOrchestrator(build.Config{
		LoadParallelism:    opts.LoadParallelism,
		ComputeParallelism: opts.ComputeParallelism,
	})
	if err := orchestrator.Run(jobs, processor); err != nil {
		log.Panicf("assembly run failed: %v", err)
	}

	idx, err := writer.Close()
	if err != nil {
		log.Panicf("closing BAM writer: %v", err)
	}

	baiFile, err := file.Create(ctx, *outFlag+".bai")
	if err != nil {
		log.Panicf("creating %s.bai: %v", *outFlag, err)
	}
	defer func() {
		if err := baiFile.Close(ctx); err != nil {
			log.Printf("closing %s.bai: %v", *outFlag, err)
		}
	}()
	if err := gbam.WriteIndex(baiFile.Writer(ctx), idx); err != nil {
		log.Panicf("writing index: %v", err)
	}

	if *statsFlag != "" {
		data, err := stats.MarshalXML()
		if err != nil {
			log.Panicf("marshaling stats: %v", err)
		}
		statsFile, err := file.Create(ctx, *statsFlag)
		if err != nil {
			log.Panicf("creating %s: %v", *statsFlag, err)
		}
		defer func() {
			if err := statsFile.Close(ctx); err != nil {
				log.Printf("closing %s: %v", *statsFlag, err)
			}
		}()
		if _, err := statsFile.Writer(ctx).Write(data); err != nil {
			log.Panicf("writing stats: %v", err)
		}
	}
}
