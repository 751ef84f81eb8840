package filesystem

// DefaultExcludeNames: 默认排除的目录/文件基名（精确匹配或 glob）。
var DefaultExcludeNames = []string{
	"node_modules", ".vercel", "postcss.config.js",
	"dist", "build", "__tests__", ".env", ".env.local",
	"readme.md", ".gitignore", ".git",
	"package-lock.json", "venv",
	"tailwind.config.ts",
	"tool.py",
	"paths.txt",
	"migrations", ".DS_Store",
	"__pycache__", ".pytest_cache", ".mypy_cache",
	".vscode", ".idea", "logs", "temp", "tmp",
	"coverage", "htmlcov", ".tox", ".eggs",
	"*.egg-info",
	"docs", "site-packages", "env",
	"static", "media", "uploads",
	".ipynb_checkpoints", "notebooks",
	"CODEBASE_DOCUMENTATION.md",
}

// DefaultExcludeExtensions: 默认排除的文件后缀（大小写不敏感的后缀匹配，故 ".min.js"、"Dockerfile" 亦可）。
var DefaultExcludeExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp",
	".svg", ".ico", ".pdf", ".csv", ".yaml", ".yml",
	".pyc", ".pyo", ".pyd", ".so", ".dll", ".exe",
	".log", ".cache", ".swp", ".swo", ".bak",
	".tmp", ".temp", ".obj", ".class",
	".ipynb", ".pkl", ".pickle", ".npy", ".npz",
	".db", ".sqlite", ".sqlite3",
	".mo", ".pot", ".po",
	".min.js", ".min.css",
	".map",
	".lock",
	".whl", ".egg",
	".pth",
	".pyi",
	".coverage", ".coveragerc",
	".dockerignore", "Dockerfile",
	".eslintrc", ".prettierrc",
	".editorconfig",
	"requirements.txt", "Pipfile",
	".flake8", ".pylintrc", "mypy.ini",
	".pyre_configuration", ".watchmanconfig",
	".pre-commit-config.yaml",
}
