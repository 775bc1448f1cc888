package sys

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgConfigWorkersRange  = "WORKERS must be between 4 and 7, got %d"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotKillFail         = "Failed to kill old instance: %v"
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotPIDWriteFail     = "Failed to write PID file: %v"
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgGenericError        = "%v"

	// --- Command Loader & Registry ---
	MsgLoaderSyncCommands       = "Syncing %s commands..."
	MsgLoaderUpToDate           = "Commands are up to date. (Hash: %s)"
	MsgLoaderCleanup            = "[CLEANUP] Removing commands from previous dev guild: %s"
	MsgLoaderDevStarting        = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered      = "[DEV] Registered: %s"
	MsgLoaderDevFail            = "[DEV] Registration failed: %v"
	MsgLoaderDevGlobalClear     = "[DEV] Verifying global commands are cleared..."
	MsgLoaderDevGlobalClearFail = "[DEV] Global clear skipped (likely rate limited): %v"
	MsgLoaderProdStarting       = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered     = "[PROD] Registered: %s"
	MsgLoaderProdFail           = "[PROD] Global registration failed: %w"
	MsgLoaderScanStarting       = "[SCAN] Checking all guilds for ghost commands..."
	MsgLoaderScanCleared        = "[SCAN] Cleared ghost commands from: %s (%s)"
	MsgLoaderPanicRecovered     = "Panic recovered in handler: %v"
	MsgLoaderBlacklistCheckFail = "Blacklist lookup failed for %s: %v"

	// --- Voice System ---
	MsgVoiceJoining          = "Joining voice channel %s in guild %s"
	MsgVoiceJoinRetry        = "Join attempt %d failed: %v"
	MsgVoiceJoinFail         = "Failed to join voice channel: %v"
	MsgVoiceLeft             = "Left voice channel in guild %s"
	MsgVoiceNowPlaying       = "Now playing in %s: %s"
	MsgVoiceFinished         = "Finished playing in %s: %s"
	MsgVoicePlaybackError    = "Playback error in %s: %v"
	MsgVoiceEntryFailed      = "Skipping %s in %s: %v"
	MsgVoiceStatusFail       = "Failed to set voice channel status: %v"
	MsgVoiceSinkStartFail    = "Failed to start encoder for %s: %v"
	MsgVoiceAnnounceFail     = "Failed to announce in %s: %v"
	MsgVoiceEmptyDisconnect  = "Channel emptied in guild %s, disconnecting"
	MsgVoiceKicked           = "Disconnected by an external event in guild %s"
	MsgVoiceAutoPause        = "Pausing playback in guild %s (no listeners)"
	MsgVoiceAutoResume       = "Resuming playback in guild %s"
	MsgVoiceShutdownSessions = "Closing %d voice session(s)"
	MsgPresenceUpdateFail    = "Failed to update presence: %v"
	MsgPresenceRotated       = "Presence set to %q (next in %s)"

	// --- Autoplaylist ---
	MsgAutoplayLoaded       = "Loaded %d autoplaylist entries from %s"
	MsgAutoplayReloaded     = "Autoplaylist changed on disk, %d entries"
	MsgAutoplayRemoved      = "Removed unplayable autoplaylist entry: %s"
	MsgAutoplayRewriteFail  = "Failed to rewrite autoplaylist: %v"
	MsgAutoplayEmpty        = "Autoplaylist is empty, autoplay disabled"
	MsgAutoplayWatchFail    = "Failed to watch autoplaylist: %v"
	MsgAutoplayArchiveEmpty = "No cached beatmap sets to autoplay"

	// --- Archive ---
	MsgArchiveDisabled   = "Beatmap archive is not configured."
	MsgArchiveAdded      = "Enqueued **%s** at position %d"
	MsgArchiveRelogin    = "Signed in to the beatmap site again."
	MsgArchiveReloginErr = "Sign-in failed: %v"
	MsgArchiveBadDir     = "`%s` is not a cached beatmap set."

	// --- Playback Replies ---
	MsgPlayEnqueued         = "Enqueued **%s** at position %d"
	MsgPlayEnqueuedETA      = "Enqueued **%s** at position %d (plays in %s)"
	MsgPlayEnqueuedNext     = "Enqueued **%s**, playing next"
	MsgPlayBulkEnqueued     = "Enqueued **%d** entries starting at position %d"
	MsgPlayBulkSkipped      = " (%d unavailable, %d too long)"
	MsgPlayResolving        = "Resolving `%s`..."
	MsgSearchHeader         = "Pick a result for `%s`:"
	MsgSearchTimedOut       = "Search timed out."
	MsgSearchNoResults      = "No results for `%s`."
	MsgSkipVoted            = "**%s** voted to skip. %d more vote(s) needed."
	MsgSkipped              = "Skipped **%s**."
	MsgQueueHeader          = "**Queue** (%d entries)\n"
	MsgQueueLine            = "`%d.` %s `%s` requested by %s\n"
	MsgQueueMore            = "...and %d more."
	MsgQueueEmpty           = "The queue is empty."
	MsgNowPlaying           = "Now playing **%s** `%s / %s`\n<%s>"
	MsgNothingPlaying       = "Nothing is playing."
	MsgShuffled             = "Shuffled the queue."
	MsgCleared              = "Cleared the queue."
	MsgRemoved              = "Removed **%s** from the queue."
	MsgPaused               = "Paused."
	MsgResumed              = "Resumed."
	MsgStopped              = "Stopped and disconnected."
	MsgAutoplayToggled      = "📻 Autoplay has been **%s**."
	MsgAutoplayUnavailable  = "Autoplay is not configured."
	MsgAutoplaySource       = "📻 Autoplay now picks from **%s**."
	MsgBlacklistEmpty       = "Nobody is blacklisted."
	MsgBlacklistHeader      = "**Blacklisted users** (%d)\n"
	MsgPingPong             = "Pong! Gateway `%s` | REST `%s` | %d session(s) | %d/%d workers busy, %d job(s) waiting"
	MsgSessionShuttingDown  = "Shutting down..."
	MsgSessionShutdownBy    = "Shutdown requested by %s (%s)"
	MsgSessionStatsLoading  = "Collecting stats..."
	MsgSessionPresence      = "Presence rotation %s."
	MsgBlacklistAdded       = "<@%s> can no longer use the bot."
	MsgBlacklistRemoved     = "<@%s> can use the bot again."
	ErrVoiceNotInChannel    = "You must be in a voice channel."
	ErrVoiceNotConnected    = "The bot is not in a voice channel."
	ErrVoiceWrongChannel    = "You must be in the same voice channel as the bot."
	ErrVoiceUserLimit       = "You already have %d entries queued."
	ErrVoiceTooLong         = "That is longer than the %s limit."
	ErrVoiceAlreadyVoted    = "You have already voted to skip."
	ErrVoiceResolveFailed   = "Could not load `%s`: %v"
	ErrVoiceNoEntries       = "Nothing from `%s` could be added."
	ErrBlacklisted          = "You are not allowed to use this bot."
	ErrOwnerOnly            = "Only bot owners can do that."
	ErrGuildOnly            = "This command can only be used in a server."
	ErrInvalidSelection     = "Invalid selection."
	ErrDatabaseUnavailable  = "Database error: %v"
	ErrArchiveFetchFailed   = "Could not fetch beatmap: %v"
	ErrArchiveNotBeatmapURL = "`%s` is not a beatmap link."
)
