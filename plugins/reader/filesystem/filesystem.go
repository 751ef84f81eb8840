package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"

	"llmdoc/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeNames: 目录/文件基名排除（大小写不敏感；支持 doublestar glob，如 "*.egg-info"）。
	// nil 时使用 DefaultExcludeNames；显式空切片表示不排除。
	ExcludeNames []string `json:"exclude_names"`
	// ExcludeExtensions: 文件名后缀排除（大小写不敏感）。nil 时使用 DefaultExcludeExtensions。
	ExcludeExtensions []string `json:"exclude_extensions"`
	// UseGitignore: 额外遵循每个根目录下的 .gitignore。
	UseGitignore bool `json:"use_gitignore"`
}

// FileSystem 实现基于文件系统的 Reader 与 TreeRenderer。
// 遍历顺序：同一目录内按字典序，先文件后子目录（与 Tree 一致）。
type FileSystem struct {
	fs      afero.Fs
	bufSize int
	// 以小写形式保存
	names     map[string]struct{}
	globs     []string
	exts      []string
	gitignore bool
}

// New 创建基于本地文件系统的 Reader。
func New(opts *Options) *FileSystem { return NewWithFs(afero.NewOsFs(), opts) }

// NewWithFs 在给定 afero.Fs 上创建 Reader（测试可用 MemMapFs）。
func NewWithFs(fs afero.Fs, opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.BufSize <= 0 {
		o.BufSize = defaultBuf
	}
	if o.ExcludeNames == nil {
		o.ExcludeNames = DefaultExcludeNames
	}
	if o.ExcludeExtensions == nil {
		o.ExcludeExtensions = DefaultExcludeExtensions
	}
	r := &FileSystem{fs: fs, bufSize: o.BufSize, names: map[string]struct{}{}, gitignore: o.UseGitignore}
	for _, n := range o.ExcludeNames {
		n = strings.ToLower(strings.Trim(n, "/"))
		if n == "" {
			continue
		}
		if strings.ContainsAny(n, "*?[{") {
			r.globs = append(r.globs, n)
			continue
		}
		r.names[n] = struct{}{}
	}
	for _, e := range o.ExcludeExtensions {
		if e != "" {
			r.exts = append(r.exts, strings.ToLower(e))
		}
	}
	return r
}

// Exclude 追加按基名精确排除的文件或目录（如本次运行的输出文档）。须在遍历前调用。
func (r *FileSystem) Exclude(names ...string) {
	for _, n := range names {
		if n = strings.ToLower(strings.Trim(n, "/")); n != "" {
			r.names[n] = struct{}{}
		}
	}
}

// walker 持有单个根的遍历状态（.gitignore 匹配以根为基准）。
type walker struct {
	r    *FileSystem
	root string
	gi   *ignore.GitIgnore
}

func (r *FileSystem) newWalker(root string) *walker {
	w := &walker{r: r, root: root}
	if !r.gitignore {
		return w
	}
	b, err := afero.ReadFile(r.fs, filepath.Join(root, ".gitignore"))
	if err != nil {
		return w
	}
	w.gi = ignore.CompileIgnoreLines(strings.Split(string(b), "\n")...)
	return w
}

func (w *walker) excludedName(name string) bool {
	n := strings.ToLower(name)
	if _, ok := w.r.names[n]; ok {
		return true
	}
	for _, g := range w.r.globs {
		if ok, _ := doublestar.Match(g, n); ok {
			return true
		}
	}
	return false
}

func (w *walker) excludedDir(p, name string) bool {
	if w.excludedName(name) {
		return true
	}
	return w.ignored(p, true)
}

func (w *walker) excludedFile(p, name string) bool {
	if w.excludedName(name) {
		return true
	}
	n := strings.ToLower(name)
	for _, e := range w.r.exts {
		if strings.HasSuffix(n, e) {
			return true
		}
	}
	return w.ignored(p, false)
}

func (w *walker) ignored(p string, dir bool) bool {
	if w.gi == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if dir {
		rel += "/"
	}
	return w.gi.MatchesPath(rel)
}

// entry: 目录项的已解析视图（符号链接解析到目标类型）。
type entry struct {
	name string
	path string
	dir  bool
}

// list 读取并分类目录项：返回（子目录, 常规文件），均为字典序。
// 目录符号链接不跟随；指向常规文件的符号链接视为文件；其他非常规项忽略。
func (w *walker) list(dir string) ([]entry, []entry, error) {
	infos, err := afero.ReadDir(w.r.fs, dir)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	var dirs, files []entry
	for _, fi := range infos {
		p := filepath.Join(dir, fi.Name())
		mode := fi.Mode()
		if mode&os.ModeSymlink != 0 {
			t, err := w.r.fs.Stat(p)
			if err != nil || !t.Mode().IsRegular() {
				continue
			}
			mode = t.Mode()
		}
		switch {
		case fi.IsDir():
			if !w.excludedDir(p, fi.Name()) {
				dirs = append(dirs, entry{name: fi.Name(), path: p, dir: true})
			}
		case mode.IsRegular():
			if !w.excludedFile(p, fi.Name()) {
				files = append(files, entry{name: fi.Name(), path: p})
			}
		}
	}
	return dirs, files, nil
}

// Iterate 遍历 roots，按稳定顺序对每个未被排除的常规文件调用 yield。
// 文件延迟打开：打开/读取失败经 ReadCloser.Read 以 ErrUnitRead 暴露，由调用方跳过。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := r.fs.Stat(root)
		if err != nil {
			return fmt.Errorf("reader: %w", err)
		}
		if !info.IsDir() {
			if !info.Mode().IsRegular() {
				continue
			}
			if err := yield(contract.NormalizeFileID(root), r.lazy(root)); err != nil {
				return err
			}
			continue
		}
		if err := r.walk(ctx, r.newWalker(root), root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) walk(ctx context.Context, w *walker, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dirs, files, err := w.list(dir)
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(contract.NormalizeFileID(f.path), r.lazy(f.path)); err != nil {
			return err
		}
	}
	for _, d := range dirs {
		if err := r.walk(ctx, w, d.path, yield); err != nil {
			return err
		}
	}
	return nil
}

// Tree 渲染目录结构：每层缩进 4 空格，目录以 "/" 结尾；同层先文件后子目录。
func (r *FileSystem) Tree(ctx context.Context, roots []string) (string, error) {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var sb strings.Builder
	for _, root := range roots {
		info, err := r.fs.Stat(root)
		if err != nil {
			return "", fmt.Errorf("reader: %w", err)
		}
		if !info.IsDir() {
			sb.WriteString("├── " + filepath.Base(root) + "\n")
			continue
		}
		if err := r.tree(ctx, r.newWalker(root), root, displayName(root), 0, &sb); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func (r *FileSystem) tree(ctx context.Context, w *walker, dir, name string, depth int, sb *strings.Builder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dirs, files, err := w.list(dir)
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	indent := strings.Repeat(" ", 4*depth)
	sb.WriteString(indent + "├── " + name + "/\n")
	for _, f := range files {
		sb.WriteString(indent + "    ├── " + f.name + "\n")
	}
	for _, d := range dirs {
		if err := r.tree(ctx, w, d.path, d.name, depth+1, sb); err != nil {
			return err
		}
	}
	return nil
}

// displayName 返回根目录的展示名；"." 等相对根解析为绝对路径基名。
func displayName(root string) string {
	base := filepath.Base(filepath.Clean(root))
	if base == "." || base == string(filepath.Separator) {
		if abs, err := filepath.Abs(root); err == nil {
			if b := filepath.Base(abs); b != string(filepath.Separator) {
				return b
			}
		}
	}
	return base
}

// lazyFile 在首次 Read 时打开文件；错误统一包装为 ErrUnitRead。
type lazyFile struct {
	fs      afero.Fs
	path    string
	bufSize int
	f       afero.File
	br      *bufio.Reader
	err     error
}

func (r *FileSystem) lazy(p string) *lazyFile {
	return &lazyFile{fs: r.fs, path: p, bufSize: r.bufSize}
}

func (l *lazyFile) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.br == nil {
		f, err := l.fs.Open(l.path)
		if err != nil {
			l.err = fmt.Errorf("%w: %s: %v", contract.ErrUnitRead, l.path, err)
			return 0, l.err
		}
		l.f = f
		l.br = bufio.NewReaderSize(f, l.bufSize)
	}
	n, err := l.br.Read(p)
	if err != nil && err != io.EOF {
		l.err = fmt.Errorf("%w: %s: %v", contract.ErrUnitRead, l.path, err)
		return n, l.err
	}
	return n, err
}

func (l *lazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

var (
	_ contract.Reader       = (*FileSystem)(nil)
	_ contract.TreeRenderer = (*FileSystem)(nil)
)
