package symtab

import (
	lru "github.com/hashicorp/golang-lru/v2"

	elf2 "github.com/grafana/backtrace/pkg/symtab/elf"
)

// ElfCache shares parsed ELF symbol tables between resolvers. Tables are
// keyed by build ID when the file has one and by FileKey otherwise. It is safe for concurrent use.
type ElfCache struct {
	buildID2Symbols *lru.Cache[elf2.BuildID, *elf2.SymbolTable]
	file2Symbols    *lru.Cache[FileKey, *elf2.SymbolTable]
}

type ElfCacheOptions struct {
	BuildIDCacheSize  int
	SameFileCacheSize int
}

func NewElfCache(options ElfCacheOptions) (*ElfCache, error) {
	buildIDs, err := lru.New[elf2.BuildID, *elf2.SymbolTable](options.BuildIDCacheSize)
	if err != nil {
		return nil, err
	}
	files, err := lru.New[FileKey, *elf2.SymbolTable](options.SameFileCacheSize)
	if err != nil {
		return nil, err
	}
	return &ElfCache{buildID2Symbols: buildIDs, file2Symbols: files}, nil
}

func (e *ElfCache) GetSymbolsByBuildID(buildID elf2.BuildID) *elf2.SymbolTable {
	if buildID.Empty() {
		return nil
	}
	res, _ := e.buildID2Symbols.Get(buildID)
	return res
}

func (e *ElfCache) CacheByBuildID(buildID elf2.BuildID, v *elf2.SymbolTable) {
	if buildID.Empty() || v == nil {
		return
	}
	e.buildID2Symbols.Add(buildID, v)
}

func (e *ElfCache) GetSymbolsByFile(k FileKey) *elf2.SymbolTable {
	if k == (FileKey{}) {
		return nil
	}
	res, _ := e.file2Symbols.Get(k)
	return res
}

func (e *ElfCache) CacheByFile(k FileKey, v *elf2.SymbolTable) {
	if k == (FileKey{}) || v == nil {
		return
	}
	e.file2Symbols.Add(k, v)
}

func (e *ElfCache) Len() (buildIDs, files int) {
	return e.buildID2Symbols.Len(), e.file2Symbols.Len()
}
