package store

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS classes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	import_key TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	final INTEGER NOT NULL DEFAULT 0,
	weight REAL NOT NULL DEFAULT 1,
	UNIQUE (class_id, import_key)
);

CREATE TABLE IF NOT EXISTS questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	kind TEXT NOT NULL,
	match_rule TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	max_points REAL NOT NULL,
	weight REAL NOT NULL DEFAULT 0,
	answer_key TEXT NOT NULL DEFAULT '[]',
	reference_answer TEXT NOT NULL DEFAULT '',
	rubric TEXT NOT NULL DEFAULT '',
	UNIQUE (exam_id, position)
);

CREATE TABLE IF NOT EXISTS enrollments (
	class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	PRIMARY KEY (class_id, student_id)
);

CREATE TABLE IF NOT EXISTS submissions (
	student_id TEXT NOT NULL,
	exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	submitted_at DATETIME NOT NULL,
	PRIMARY KEY (student_id, exam_id)
);

CREATE TABLE IF NOT EXISTS responses (
	student_id TEXT NOT NULL,
	exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	response TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (student_id, question_id)
);

CREATE TABLE IF NOT EXISTS term_scores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	value REAL NOT NULL,
	weight REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS question_scores (
	student_id TEXT NOT NULL,
	question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	score REAL NOT NULL,
	feedback TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	scored_at DATETIME NOT NULL,
	PRIMARY KEY (student_id, question_id)
);

CREATE TABLE IF NOT EXISTS correction_batches (
	id TEXT PRIMARY KEY,
	class_id TEXT NOT NULL,
	model TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	total_student_exams INTEGER NOT NULL DEFAULT 0,
	total_open_questions INTEGER NOT NULL DEFAULT 0,
	queued_messages INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS correction_jobs (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	exam_id INTEGER NOT NULL,
	open_questions INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS correction_jobs_batch ON correction_jobs(batch_id);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	imported_at DATETIME NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS classes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id BIGSERIAL PRIMARY KEY,
	class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	import_key TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	final BOOLEAN NOT NULL DEFAULT FALSE,
	weight DOUBLE PRECISION NOT NULL DEFAULT 1,
	UNIQUE (class_id, import_key)
);

CREATE TABLE IF NOT EXISTS questions (
	id BIGSERIAL PRIMARY KEY,
	exam_id BIGINT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	kind TEXT NOT NULL,
	match_rule TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	max_points DOUBLE PRECISION NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0,
	answer_key TEXT NOT NULL DEFAULT '[]',
	reference_answer TEXT NOT NULL DEFAULT '',
	rubric TEXT NOT NULL DEFAULT '',
	UNIQUE (exam_id, position)
);

CREATE TABLE IF NOT EXISTS enrollments (
	class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	PRIMARY KEY (class_id, student_id)
);

CREATE TABLE IF NOT EXISTS submissions (
	student_id TEXT NOT NULL,
	exam_id BIGINT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	submitted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (student_id, exam_id)
);

CREATE TABLE IF NOT EXISTS responses (
	student_id TEXT NOT NULL,
	exam_id BIGINT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	response TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (student_id, question_id)
);

CREATE TABLE IF NOT EXISTS term_scores (
	id BIGSERIAL PRIMARY KEY,
	class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	value DOUBLE PRECISION NOT NULL,
	weight DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS question_scores (
	student_id TEXT NOT NULL,
	question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	score DOUBLE PRECISION NOT NULL,
	feedback TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	scored_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (student_id, question_id)
);

CREATE TABLE IF NOT EXISTS correction_batches (
	id TEXT PRIMARY KEY,
	class_id TEXT NOT NULL,
	model TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	total_student_exams INTEGER NOT NULL DEFAULT 0,
	total_open_questions INTEGER NOT NULL DEFAULT 0,
	queued_messages INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS correction_jobs (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	exam_id BIGINT NOT NULL,
	open_questions INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS correction_jobs_batch ON correction_jobs(batch_id);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	imported_at TIMESTAMPTZ NOT NULL
);
`
