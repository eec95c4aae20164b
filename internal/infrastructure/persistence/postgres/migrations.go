// Package postgres implements the PostgreSQL persistence layer of the
// gamification core.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create XP ledger tables
-- Version: 001

CREATE TABLE IF NOT EXISTS xp_accounts (
    id BIGSERIAL PRIMARY KEY,
    student_id BIGINT NOT NULL UNIQUE,
    total_xp INTEGER NOT NULL DEFAULT 0,
    available_xp INTEGER NOT NULL DEFAULT 0,
    spent_xp INTEGER NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    weekly_xp INTEGER NOT NULL DEFAULT 0,
    monthly_xp INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_balance CHECK (available_xp = total_xp - spent_xp),
    CONSTRAINT non_negative_available CHECK (available_xp >= 0)
);

CREATE TABLE IF NOT EXISTS xp_transactions (
    id BIGSERIAL PRIMARY KEY,
    student_id BIGINT NOT NULL,
    amount INTEGER NOT NULL,
    source VARCHAR(40) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    balance_before INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    idempotency_key VARCHAR(120),
    session_id VARCHAR(120),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- The idempotency key is globally unique when present; duplicate earns are
-- detected by this constraint on insert, never by a pre-check.
CREATE UNIQUE INDEX IF NOT EXISTS idx_xp_transactions_idem_key
    ON xp_transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_xp_transactions_student
    ON xp_transactions(student_id, created_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS xp_transactions;
DROP TABLE IF EXISTS xp_accounts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: BADGES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create badge catalog and award tables
-- Version: 002

CREATE TABLE IF NOT EXISTS badge_definitions (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(60) NOT NULL UNIQUE,
    name VARCHAR(120) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(30) NOT NULL,
    tier VARCHAR(20) NOT NULL,
    xp_reward INTEGER NOT NULL DEFAULT 0,
    criteria JSONB NOT NULL,
    target_role VARCHAR(20) NOT NULL DEFAULT 'student',
    grade_level INTEGER NOT NULL DEFAULT 0,
    subject VARCHAR(60) NOT NULL DEFAULT '',
    is_secret BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_category CHECK (category IN ('milestone', 'consistency', 'mastery', 'excellence')),
    CONSTRAINT valid_tier CHECK (tier IN ('bronze', 'silver', 'gold', 'platinum'))
);

CREATE INDEX IF NOT EXISTS idx_badge_definitions_role ON badge_definitions(target_role, grade_level);

CREATE TABLE IF NOT EXISTS student_badges (
    id BIGSERIAL PRIMARY KEY,
    student_id BIGINT NOT NULL,
    badge_id BIGINT NOT NULL REFERENCES badge_definitions(id),
    progress DECIMAL(5,2) NOT NULL DEFAULT 0,
    is_earned BOOLEAN NOT NULL DEFAULT FALSE,
    earned_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_student_badge UNIQUE (student_id, badge_id),
    CONSTRAINT valid_progress CHECK (progress >= 0 AND progress <= 100)
);

CREATE INDEX IF NOT EXISTS idx_student_badges_student ON student_badges(student_id) WHERE is_earned;
`

const migration002Down = `
DROP TABLE IF EXISTS student_badges;
DROP TABLE IF EXISTS badge_definitions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create challenge tables
-- Version: 003

CREATE TABLE IF NOT EXISTS challenges (
    id BIGSERIAL PRIMARY KEY,
    title VARCHAR(160) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    metric VARCHAR(40) NOT NULL,
    target_value DOUBLE PRECISION NOT NULL,
    xp_reward INTEGER NOT NULL DEFAULT 0,
    badge_id BIGINT NOT NULL DEFAULT 0,
    tier VARCHAR(20) NOT NULL DEFAULT 'standard',
    scope_kind VARCHAR(20) NOT NULL DEFAULT 'global',
    scope_id BIGINT NOT NULL DEFAULT 0,
    max_participants INTEGER NOT NULL DEFAULT 0,
    participants INTEGER NOT NULL DEFAULT 0,
    start_date TIMESTAMP WITH TIME ZONE NOT NULL,
    end_date TIMESTAMP WITH TIME ZONE NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_metric CHECK (metric IN ('problem_count', 'time_minutes', 'streak_days', 'accuracy_improvement')),
    CONSTRAINT valid_challenge_tier CHECK (tier IN ('standard', 'advanced', 'epic')),
    CONSTRAINT valid_window CHECK (end_date > start_date),
    CONSTRAINT valid_target CHECK (target_value > 0)
);

CREATE INDEX IF NOT EXISTS idx_challenges_window ON challenges(start_date, end_date) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_challenges_scope ON challenges(scope_kind, scope_id);

CREATE TABLE IF NOT EXISTS challenge_participations (
    id BIGSERIAL PRIMARY KEY,
    challenge_id BIGINT NOT NULL REFERENCES challenges(id),
    student_id BIGINT NOT NULL,
    current_value DOUBLE PRECISION NOT NULL DEFAULT 0,
    starting_baseline DOUBLE PRECISION NOT NULL DEFAULT 0,
    progress_history JSONB NOT NULL DEFAULT '[]'::jsonb,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    xp_awarded BOOLEAN NOT NULL DEFAULT FALSE,
    badge_awarded BOOLEAN NOT NULL DEFAULT FALSE,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_participation UNIQUE (challenge_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_participations_student
    ON challenge_participations(student_id) WHERE NOT is_completed;
CREATE INDEX IF NOT EXISTS idx_participations_completed
    ON challenge_participations(completed_at) WHERE is_completed;
`

const migration003Down = `
DROP TABLE IF EXISTS challenge_participations;
DROP TABLE IF EXISTS challenges;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: LEADERBOARDS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Migration: Create leaderboard tables
-- Version: 004

CREATE TABLE IF NOT EXISTS leaderboards (
    id BIGSERIAL PRIMARY KEY,
    type VARCHAR(40) NOT NULL,
    scope_kind VARCHAR(20) NOT NULL,
    scope_id BIGINT NOT NULL DEFAULT 0,
    period_start TIMESTAMP WITH TIME ZONE NOT NULL,
    period_end TIMESTAMP WITH TIME ZONE NOT NULL,
    is_current BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_type CHECK (type IN ('weekly_xp', 'monthly_accuracy', 'challenge_completions', 'streak', 'badges')),
    CONSTRAINT valid_scope CHECK (scope_kind IN ('class', 'grade', 'school')),
    CONSTRAINT valid_period CHECK (period_end > period_start)
);

-- At most one current leaderboard per scope key.
CREATE UNIQUE INDEX IF NOT EXISTS idx_leaderboards_current
    ON leaderboards(type, scope_kind, scope_id) WHERE is_current;

CREATE TABLE IF NOT EXISTS leaderboard_entries (
    id BIGSERIAL PRIMARY KEY,
    leaderboard_id BIGINT NOT NULL REFERENCES leaderboards(id),
    student_id BIGINT NOT NULL,
    rank INTEGER NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    previous_rank INTEGER NOT NULL DEFAULT 0,
    trend VARCHAR(10) NOT NULL DEFAULT 'new',

    CONSTRAINT uq_leaderboard_entry UNIQUE (leaderboard_id, student_id),
    CONSTRAINT valid_rank CHECK (rank >= 1),
    CONSTRAINT valid_trend CHECK (trend IN ('up', 'down', 'same', 'new'))
);

CREATE INDEX IF NOT EXISTS idx_entries_rank ON leaderboard_entries(leaderboard_id, rank);
CREATE INDEX IF NOT EXISTS idx_entries_student ON leaderboard_entries(student_id);
`

const migration004Down = `
DROP TABLE IF EXISTS leaderboard_entries;
DROP TABLE IF EXISTS leaderboards;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: ACTIVITY AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
-- Migration: Create activity aggregate tables
-- Version: 005

CREATE TABLE IF NOT EXISTS problem_attempts (
    id BIGSERIAL PRIMARY KEY,
    student_id BIGINT NOT NULL,
    attempt_id VARCHAR(120) NOT NULL UNIQUE,
    subject VARCHAR(60) NOT NULL DEFAULT '',
    difficulty VARCHAR(20) NOT NULL DEFAULT 'medium',
    hints_used INTEGER NOT NULL DEFAULT 0,
    is_correct BOOLEAN NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_student_time ON problem_attempts(student_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_attempts_subject ON problem_attempts(student_id, subject);

CREATE TABLE IF NOT EXISTS daily_activity (
    student_id BIGINT NOT NULL,
    activity_date DATE NOT NULL,
    minutes_spent INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (student_id, activity_date)
);

CREATE TABLE IF NOT EXISTS student_stats (
    student_id BIGINT PRIMARY KEY,
    current_streak_days INTEGER NOT NULL DEFAULT 0,
    longest_streak_days INTEGER NOT NULL DEFAULT 0,
    problems_solved INTEGER NOT NULL DEFAULT 0,
    problems_attempted INTEGER NOT NULL DEFAULT 0,
    perfect_solves INTEGER NOT NULL DEFAULT 0,
    total_minutes INTEGER NOT NULL DEFAULT 0,
    last_activity_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS student_scopes (
    student_id BIGINT PRIMARY KEY,
    class_id BIGINT NOT NULL DEFAULT 0,
    grade_level INTEGER NOT NULL DEFAULT 0,
    school_id BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_scopes_class ON student_scopes(class_id);
CREATE INDEX IF NOT EXISTS idx_scopes_grade ON student_scopes(grade_level);
CREATE INDEX IF NOT EXISTS idx_scopes_school ON student_scopes(school_id);
`

const migration005Down = `
DROP TABLE IF EXISTS student_scopes;
DROP TABLE IF EXISTS student_stats;
DROP TABLE IF EXISTS daily_activity;
DROP TABLE IF EXISTS problem_attempts;
`

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_ledger", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_badges", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_challenges", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_leaderboards", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "create_activity", UpSQL: migration005Up, DownSQL: migration005Down},
	}
}
