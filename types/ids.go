package types

// PageId identifies a 4096-byte page within a table's data file.
// 0 is the sentinel "no page"; valid page ids start at 1.
type PageId uint32

// TupleId identifies a row within a table, unique for the lifetime of the
// table. 0 means "unassigned, allocate on insert". Within one open of a
// table, ids are monotonic and a deleted row's id is not issued again. On
// reopen, allocation resumes one above the highest id still stored, so
// the id of a deleted highest row can be issued again.
type TupleId uint64

// TransactionId identifies a transaction, monotonic per process.
// 0 is reserved for "no transaction".
type TransactionId uint32

// NoPage is the sentinel PageId meaning "no page" / end of chain.
const NoPage PageId = 0

// UnassignedTuple is the sentinel TupleId meaning "allocate on insert".
const UnassignedTuple TupleId = 0

// NoTransaction is the sentinel TransactionId meaning "no transaction".
const NoTransaction TransactionId = 0

// PageSize is the fixed size, in bytes, of every page on disk.
const PageSize = 4096

// BufferPoolSize is the default number of frames held by a buffer pool.
const BufferPoolSize = 1000
